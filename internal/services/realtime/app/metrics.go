package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

// metrics holds the service's Prometheus collectors. Each server owns its
// own registry so several servers can live in one test binary.
type metrics struct {
	registry          *prometheus.Registry
	activeConnections prometheus.Gauge
	updates           *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	reaped            *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safehaven",
			Name:      "connections_active",
			Help:      "Authenticated WebSocket connections currently registered.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safehaven",
			Name:      "shelter_updates_total",
			Help:      "Shelter status updates by outcome code.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safehaven",
			Name:      "alert_changes_total",
			Help:      "Alert creations and transitions by action and outcome code.",
		}, []string{"action", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safehaven",
			Name:      "broadcast_deliveries_total",
			Help:      "Per-connection broadcast deliveries by frame type and result.",
		}, []string{"type", "result"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safehaven",
			Name:      "connections_closed_total",
			Help:      "Connections closed by the server, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeConnections,
		m.updates,
		m.alerts,
		m.deliveries,
		m.reaped,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.CodeOf(err))
}
