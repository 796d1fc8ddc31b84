package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/safehaven-connect/safehaven/internal/services/realtime"

// CredentialVerifier resolves a bearer credential to an identity.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

type hubSettings struct {
	authTimeout        time.Duration
	sendQueueSize      int
	writeTimeout       time.Duration
	maxFrameBytes      int64
	maxFramesPerSecond int
	maxDecodeErrors    int
}

// hub ties the registry, ingestion, dispatch and liveness together behind
// the HTTP handler.
type hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	ingestor   *Ingestor
	heartbeat  *heartbeat
	verifier   CredentialVerifier
	metrics    *metrics
	upgrader   websocket.Upgrader
	settings   hubSettings
	now        func() time.Time

	// workers counts the per-connection frame workers still running.
	workers sync.WaitGroup
}

func newHub(cfg Config, now func() time.Time) *hub {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	m := newMetrics()
	tracer := otel.Tracer(tracerName)
	registry := NewRegistry()
	dispatcher := newDispatcher(registry, m, tracer, now)
	ingestor := newIngestor(ingestorConfig{
		store:          cfg.Store,
		dispatcher:     dispatcher,
		publisher:      cfg.Publisher,
		metrics:        m,
		tracer:         tracer,
		now:            now,
		persistTimeout: cfg.PersistTimeout,
		maxClockSkew:   cfg.MaxClockSkew,
	})
	return &hub{
		registry:   registry,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		heartbeat: &heartbeat{
			registry: registry,
			metrics:  m,
			interval: cfg.HeartbeatInterval,
			timeout:  cfg.HeartbeatTimeout,
			now:      now,
		},
		verifier: cfg.Verifier,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is not checked: credentials are bearer tokens, never cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		settings: hubSettings{
			authTimeout:        cfg.AuthTimeout,
			sendQueueSize:      cfg.SendQueueSize,
			writeTimeout:       cfg.WriteTimeout,
			maxFrameBytes:      cfg.MaxFrameBytes,
			maxFramesPerSecond: cfg.MaxFramesPerSecond,
			maxDecodeErrors:    cfg.MaxDecodeErrors,
		},
		now: now,
	}
}

// closeAll unregisters and closes every connection with code.
func (h *hub) closeAll(code int, reason string) {
	for _, entry := range h.registry.snapshot() {
		if handle, ok := h.registry.Unregister(entry.id); ok {
			handle.Close(code, reason)
			h.metrics.activeConnections.Dec()
		}
	}
}

// drain waits for every connection worker and then for in-flight commits.
func (h *hub) drain() {
	h.workers.Wait()
	h.ingestor.wait()
}
