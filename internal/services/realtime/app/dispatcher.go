package server

import (
	"context"
	"log"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is one message fanned out to every connection in Target.
type Event struct {
	Type    string
	Payload any
	Target  domain.Target
}

// DeliveryReport collects the outcome of one broadcast.
type DeliveryReport struct {
	Attempted int
	Delivered []string
	Failures  map[string]error
}

// Dispatcher resolves targets against the registry and queues frames on each
// matching connection. A slow or broken connection only affects itself.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time
}

func newDispatcher(registry *Registry, m *metrics, tracer trace.Tracer, now func() time.Time) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: m, tracer: tracer, now: now}
}

// Broadcast delivers event to every live connection matching its target and
// reports per-connection failures without aborting the fan-out.
func (d *Dispatcher) Broadcast(ctx context.Context, event Event) DeliveryReport {
	_, span := d.tracer.Start(ctx, "realtime.broadcast", trace.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("target.type", string(event.Target.Type)),
	))
	defer span.End()

	report := DeliveryReport{Failures: make(map[string]error)}
	frame, err := encodeFrame(event.Type, "", event.Payload, d.now())
	if err != nil {
		log.Printf("realtime: encode %s frame: %v", event.Type, err)
		span.RecordError(err)
		return report
	}

	ids := d.registry.Find(event.Target.Matches)
	report.Attempted = len(ids)
	for _, connID := range ids {
		if err := d.registry.Send(connID, frame); err != nil {
			report.Failures[connID] = apperrors.WithMetadata(
				apperrors.CodeDelivery,
				err.Error(),
				map[string]string{"connectionId": connID},
			)
			d.metrics.deliveries.WithLabelValues(event.Type, "failed").Inc()
			continue
		}
		report.Delivered = append(report.Delivered, connID)
		d.metrics.deliveries.WithLabelValues(event.Type, "delivered").Inc()
	}
	span.SetAttributes(
		attribute.Int("delivery.attempted", report.Attempted),
		attribute.Int("delivery.failed", len(report.Failures)),
	)
	if len(report.Failures) > 0 {
		log.Printf("realtime: %s delivery failures=%d attempted=%d", event.Type, len(report.Failures), report.Attempted)
	}
	return report
}
