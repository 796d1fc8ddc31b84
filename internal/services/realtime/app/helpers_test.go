package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/events"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/memory"
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport records queued frames and liveness calls.
type fakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	enqueueErr  error
	pings       int
	lastPing    time.Time
	pingPending time.Time
	closeCode   int
	closed      bool
}

func (f *fakeTransport) Enqueue(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Ping(now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	f.lastPing = now
	if f.pingPending.IsZero() {
		f.pingPending = now
	}
	return nil
}

func (f *fakeTransport) PingOutstanding() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingPending, !f.pingPending.IsZero()
}

func (f *fakeTransport) LastPing() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPing
}

func (f *fakeTransport) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
	}
}

func (f *fakeTransport) pong() {
	f.mu.Lock()
	f.pingPending = time.Time{}
	f.mu.Unlock()
}

func (f *fakeTransport) received(t *testing.T) []serverFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]serverFrame, 0, len(f.frames))
	for _, raw := range f.frames {
		var frame serverFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode frame %s: %v", raw, err)
		}
		out = append(out, frame)
	}
	return out
}

func (f *fakeTransport) closedWith() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closed
}

// fakeVerifier maps opaque tokens to identities.
type fakeVerifier struct {
	identities  map[string]domain.Identity
	unavailable bool
}

func (f fakeVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if f.unavailable {
		return domain.Identity{}, apperrors.New(apperrors.CodeUnavailable, "directory down")
	}
	who, ok := f.identities[token]
	if !ok {
		return domain.Identity{}, apperrors.New(apperrors.CodeAuthentication, "invalid credential")
	}
	return who, nil
}

var (
	operatorS1  = domain.Identity{UserID: "op-1", Role: domain.RoleShelterOperator, ShelterID: "S1"}
	operatorS2  = domain.Identity{UserID: "op-2", Role: domain.RoleShelterOperator, ShelterID: "S2"}
	responder   = domain.Identity{UserID: "fr-1", Role: domain.RoleFirstResponder}
	coordinator = domain.Identity{UserID: "co-1", Role: domain.RoleEmergencyCoordinator}
)

func testVerifier() fakeVerifier {
	return fakeVerifier{identities: map[string]domain.Identity{
		"token-op-s1":       operatorS1,
		"token-op-s2":       operatorS2,
		"token-responder":   responder,
		"token-coordinator": coordinator,
	}}
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Kind)
	}
	return out
}

func testShelter(shelterID string, at time.Time) domain.Shelter {
	return domain.Shelter{
		ID:       shelterID,
		Name:     "Shelter " + shelterID,
		Capacity: domain.Capacity{Current: 10, Maximum: 100},
		Resources: domain.Resources{
			Food:    domain.ResourceAdequate,
			Water:   domain.ResourceAdequate,
			Medical: domain.ResourceAdequate,
			Bedding: domain.ResourceAdequate,
		},
		Status:      domain.ShelterAvailable,
		UrgentNeeds: []string{},
		LastUpdated: at,
		CreatedAt:   at,
	}
}

func seededStore(t *testing.T, shelterIDs ...string) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, shelterID := range shelterIDs {
		if err := store.PutShelter(context.Background(), testShelter(shelterID, testNow.Add(-time.Hour))); err != nil {
			t.Fatalf("seed shelter %s: %v", shelterID, err)
		}
	}
	return store
}

func newTestHub(t *testing.T, cfg Config) *hub {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = seededStore(t, "S1", "S2")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = testVerifier()
	}
	h := newHub(cfg, func() time.Time { return testNow })
	if err := h.ingestor.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	return h
}

func registerFake(t *testing.T, h *hub, who domain.Identity) (string, *fakeTransport) {
	t.Helper()
	handle := &fakeTransport{lastPing: testNow}
	connID, err := h.registry.Register(handle, who)
	if err != nil {
		t.Fatalf("register %s: %v", who.UserID, err)
	}
	h.metrics.activeConnections.Inc()
	return connID, handle
}

func framesOfType(frames []serverFrame, frameType string) []serverFrame {
	var out []serverFrame
	for _, frame := range frames {
		if frame.Type == frameType {
			out = append(out, frame)
		}
	}
	return out
}

func capacityUpdate(current, maximum int, at time.Time) domain.ShelterStatusUpdate {
	return domain.ShelterStatusUpdate{
		Capacity:  &domain.Capacity{Current: current, Maximum: maximum},
		Timestamp: domain.At(at),
	}
}
