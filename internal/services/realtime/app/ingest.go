package server

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/platform/id"
	"github.com/safehaven-connect/safehaven/internal/platform/requestctx"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/events"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ingestor validates, orders, persists and fans out shelter updates and alert
// changes. Work for one shelter runs in that shelter's lane, so commits and
// their broadcasts happen in acceptance order.
//
// Submitted work runs on a context detached from the caller's cancellation:
// a client disconnecting mid-update does not abandon the commit.
type Ingestor struct {
	store          storage.Store
	dispatcher     *Dispatcher
	publisher      events.Publisher
	lanes          *lanes
	metrics        *metrics
	tracer         trace.Tracer
	now            func() time.Time
	persistTimeout time.Duration
	maxClockSkew   time.Duration

	cacheMu sync.RWMutex
	cache   map[string]domain.Shelter
}

type ingestorConfig struct {
	store          storage.Store
	dispatcher     *Dispatcher
	publisher      events.Publisher
	metrics        *metrics
	tracer         trace.Tracer
	now            func() time.Time
	persistTimeout time.Duration
	maxClockSkew   time.Duration
}

func newIngestor(cfg ingestorConfig) *Ingestor {
	publisher := cfg.publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Ingestor{
		store:          cfg.store,
		dispatcher:     cfg.dispatcher,
		publisher:      publisher,
		lanes:          newLanes(),
		metrics:        cfg.metrics,
		tracer:         cfg.tracer,
		now:            cfg.now,
		persistTimeout: cfg.persistTimeout,
		maxClockSkew:   cfg.maxClockSkew,
		cache:          make(map[string]domain.Shelter),
	}
}

// Warm loads every stored shelter into the canonical cache.
func (in *Ingestor) Warm(ctx context.Context) error {
	shelters, err := in.store.ListShelters(ctx)
	if err != nil {
		return err
	}
	in.cacheMu.Lock()
	for _, shelter := range shelters {
		in.cache[shelter.ID] = shelter
	}
	in.cacheMu.Unlock()
	return nil
}

// ApplyUpdate authorizes, merges and commits update for shelterID on behalf of
// identity and returns the new canonical state.
func (in *Ingestor) ApplyUpdate(ctx context.Context, shelterID string, update domain.ShelterStatusUpdate, identity domain.Identity) (shelter domain.Shelter, err error) {
	ctx, span := in.tracer.Start(ctx, "realtime.apply_update", trace.WithAttributes(
		attribute.String("shelter.id", shelterID),
		attribute.String("user.id", identity.UserID),
	))
	defer func() {
		in.metrics.updates.WithLabelValues(resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	shelterID = strings.TrimSpace(shelterID)
	if shelterID == "" {
		return domain.Shelter{}, apperrors.New(apperrors.CodeInvalidArgument, "shelterId is required")
	}
	if !identity.CanUpdateShelter(shelterID) {
		return domain.Shelter{}, apperrors.WithMetadata(
			apperrors.CodeAuthorization,
			"not allowed to update this shelter",
			map[string]string{"shelterId": shelterID},
		)
	}
	if err := update.Validate(); err != nil {
		return domain.Shelter{}, err
	}
	if update.IsEmpty() {
		return domain.Shelter{}, apperrors.New(apperrors.CodeInvalidArgument, "update changes nothing")
	}
	if in.maxClockSkew > 0 && update.Timestamp.After(in.now().Add(in.maxClockSkew)) {
		return domain.Shelter{}, apperrors.New(apperrors.CodeInvalidArgument, "timestamp is too far in the future")
	}

	work := context.WithoutCancel(ctx)
	in.lanes.run(shelterID, func() {
		shelter, err = in.commitUpdate(work, shelterID, update)
	})
	return shelter, err
}

func (in *Ingestor) commitUpdate(ctx context.Context, shelterID string, update domain.ShelterStatusUpdate) (domain.Shelter, error) {
	current, err := in.currentShelter(ctx, shelterID)
	if err != nil {
		return domain.Shelter{}, err
	}
	next, err := domain.ApplyUpdate(current, update)
	if err != nil {
		return domain.Shelter{}, err
	}
	if err := in.persist(ctx, func(ctx context.Context) error { return in.store.PutShelter(ctx, next) }); err != nil {
		return domain.Shelter{}, err
	}

	in.cacheMu.Lock()
	in.cache[shelterID] = next.Clone()
	in.cacheMu.Unlock()

	in.dispatcher.Broadcast(ctx, Event{Type: frameShelterUpdate, Payload: next, Target: domain.ShelterTarget(shelterID)})
	in.publish(ctx, events.Event{Kind: events.KindShelterUpdated, ShelterID: shelterID, Payload: next, At: next.LastUpdated})
	return next.Clone(), nil
}

// CreateAlert opens a new alert. Operators may omit the shelter id and default
// to their own shelter.
func (in *Ingestor) CreateAlert(ctx context.Context, input domain.NewAlertInput, identity domain.Identity) (alert domain.Alert, err error) {
	ctx, span := in.tracer.Start(ctx, "realtime.create_alert", trace.WithAttributes(attribute.String("user.id", identity.UserID)))
	defer func() {
		in.metrics.alerts.WithLabelValues("create", resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	if strings.TrimSpace(input.ShelterID) == "" {
		input.ShelterID = identity.ShelterID
	}
	shelterID := strings.TrimSpace(input.ShelterID)
	if shelterID == "" {
		return domain.Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert shelterId is required")
	}
	if !identity.CanRaiseAlert(shelterID) {
		return domain.Alert{}, apperrors.WithMetadata(
			apperrors.CodeAuthorization,
			"not allowed to raise alerts for this shelter",
			map[string]string{"shelterId": shelterID},
		)
	}
	alertID, err := id.WithPrefix("alert")
	if err != nil {
		return domain.Alert{}, apperrors.Wrap(apperrors.CodeUnknown, "generate alert id", err)
	}
	alert, err = domain.NewAlert(alertID, input, identity.UserID, in.now())
	if err != nil {
		return domain.Alert{}, err
	}

	work := context.WithoutCancel(ctx)
	in.lanes.run(shelterID, func() {
		err = in.commitAlert(work, alert, events.KindAlertCreated)
	})
	if err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

// UpdateAlert moves an alert forward through its lifecycle.
func (in *Ingestor) UpdateAlert(ctx context.Context, alertID string, next domain.AlertStatus, identity domain.Identity) (alert domain.Alert, err error) {
	ctx, span := in.tracer.Start(ctx, "realtime.update_alert", trace.WithAttributes(
		attribute.String("alert.id", alertID),
		attribute.String("user.id", identity.UserID),
	))
	defer func() {
		in.metrics.alerts.WithLabelValues("update", resultLabel(err)).Inc()
		endSpan(span, err)
	}()

	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return domain.Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alertId is required")
	}
	if !identity.CanProgressAlert() {
		return domain.Alert{}, apperrors.New(apperrors.CodeAuthorization, "not allowed to update alerts")
	}
	existing, err := in.loadAlert(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}

	work := context.WithoutCancel(ctx)
	in.lanes.run(existing.ShelterID, func() {
		var current domain.Alert
		current, err = in.loadAlert(work, alertID)
		if err != nil {
			return
		}
		alert, err = current.Transition(next, identity.UserID, in.now())
		if err != nil {
			return
		}
		err = in.commitAlert(work, alert, events.KindAlertUpdated)
	})
	if err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}

func (in *Ingestor) commitAlert(ctx context.Context, alert domain.Alert, kind events.Kind) error {
	if err := in.persist(ctx, func(ctx context.Context) error { return in.store.PutAlert(ctx, alert) }); err != nil {
		return err
	}
	in.dispatcher.Broadcast(ctx, Event{Type: frameAlert, Payload: alert, Target: domain.ShelterTarget(alert.ShelterID)})
	in.publish(ctx, events.Event{Kind: kind, ShelterID: alert.ShelterID, Payload: alert, At: in.now()})
	return nil
}

// Shelter returns the canonical state of one shelter.
func (in *Ingestor) Shelter(ctx context.Context, shelterID string) (domain.Shelter, error) {
	return in.currentShelter(ctx, strings.TrimSpace(shelterID))
}

// Shelters returns every shelter, preferring cached canonical state.
func (in *Ingestor) Shelters(ctx context.Context) ([]domain.Shelter, error) {
	stored, err := in.store.ListShelters(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "list shelters", err)
	}
	byID := make(map[string]domain.Shelter, len(stored))
	for _, shelter := range stored {
		byID[shelter.ID] = shelter
	}
	in.cacheMu.RLock()
	for shelterID, shelter := range in.cache {
		byID[shelterID] = shelter.Clone()
	}
	in.cacheMu.RUnlock()

	out := make([]domain.Shelter, 0, len(byID))
	for _, shelter := range byID {
		out = append(out, shelter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Alerts lists alerts matching filter.
func (in *Ingestor) Alerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error) {
	alerts, err := in.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "list alerts", err)
	}
	return alerts, nil
}

func (in *Ingestor) currentShelter(ctx context.Context, shelterID string) (domain.Shelter, error) {
	in.cacheMu.RLock()
	cached, ok := in.cache[shelterID]
	in.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	var loaded domain.Shelter
	err := in.persist(ctx, func(ctx context.Context) error {
		var err error
		loaded, err = in.store.GetShelter(ctx, shelterID)
		return err
	})
	if err != nil {
		return domain.Shelter{}, err
	}
	in.cacheMu.Lock()
	if existing, ok := in.cache[shelterID]; ok {
		loaded = existing
	} else {
		in.cache[shelterID] = loaded
	}
	in.cacheMu.Unlock()
	return loaded.Clone(), nil
}

func (in *Ingestor) loadAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	var alert domain.Alert
	err := in.persist(ctx, func(ctx context.Context) error {
		var err error
		alert, err = in.store.GetAlert(ctx, alertID)
		return err
	})
	return alert, err
}

// persist runs one store call under the persist timeout and maps failures to
// domain errors.
func (in *Ingestor) persist(ctx context.Context, call func(context.Context) error) error {
	if in.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.persistTimeout)
		defer cancel()
	}
	err := call(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", err)
	default:
		log.Printf("realtime: persistence failure %s: %v", requestctx.Attribution(ctx), err)
		return apperrors.Wrap(apperrors.CodePersistence, "persistence unavailable, retry later", err)
	}
}

func (in *Ingestor) publish(ctx context.Context, event events.Event) {
	if in.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.persistTimeout)
		defer cancel()
	}
	if err := in.publisher.Publish(ctx, event); err != nil {
		log.Printf("realtime: publish %s shelter=%s %s: %v", event.Kind, event.ShelterID, requestctx.Attribution(ctx), err)
	}
}

// wait blocks until every in-flight lane task has finished.
func (in *Ingestor) wait() {
	in.lanes.wait()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.MessageOf(err))
	}
	span.End()
}
