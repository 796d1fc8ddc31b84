package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/platform/id"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
)

var (
	errConnectionNotFound = errors.New("connection not found")
	errConnectionClosed   = errors.New("connection closed")
	errSendQueueFull      = errors.New("send queue full")
)

// transport is the registry's view of one client connection. Enqueue must
// never block.
type transport interface {
	Enqueue(frame []byte) error
	Ping(now time.Time) error
	PingOutstanding() (time.Time, bool)
	LastPing() time.Time
	Close(code int, reason string)
}

type registration struct {
	id        string
	identity  domain.Identity
	transport transport
}

// Registry is the arena of authenticated connections, keyed by opaque ids
// that are independent of any transport identifier.
//
// Every method takes the registry lock, so a Send that starts after
// Unregister returns always observes "not found".
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*registration
	byHandle map[transport]string
	newID    func() (string, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*registration),
		byHandle: make(map[transport]string),
		newID:    func() (string, error) { return id.WithPrefix("conn") },
	}
}

// Register adds an authenticated connection and returns its id. Registering
// the same transport twice fails with DUPLICATE_SESSION.
func (r *Registry) Register(handle transport, identity domain.Identity) (string, error) {
	if handle == nil {
		return "", errors.New("transport is required")
	}
	connID, err := r.newID()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byHandle[handle]; ok {
		return "", apperrors.WithMetadata(
			apperrors.CodeDuplicateSession,
			"connection is already registered",
			map[string]string{"connectionId": existing},
		)
	}
	r.byID[connID] = &registration{id: connID, identity: identity, transport: handle}
	r.byHandle[handle] = connID
	return connID, nil
}

// Unregister removes a connection and returns its transport. It reports false
// when the id is unknown, so concurrent callers tear a connection down once.
func (r *Registry) Unregister(connID string) (transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[connID]
	if !ok {
		return nil, false
	}
	delete(r.byID, connID)
	delete(r.byHandle, reg.transport)
	return reg.transport, true
}

// Find returns the ids of every connection whose identity satisfies match,
// sorted for deterministic fan-out.
func (r *Registry) Find(match func(domain.Identity) bool) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for connID, reg := range r.byID {
		if match == nil || match(reg.identity) {
			ids = append(ids, connID)
		}
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Lookup returns the identity bound to connID.
func (r *Registry) Lookup(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[connID]
	if !ok {
		return domain.Identity{}, false
	}
	return reg.identity, true
}

// Send queues frame on connID's outbound queue.
func (r *Registry) Send(connID string, frame []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[connID]
	if !ok {
		return errConnectionNotFound
	}
	return reg.transport.Enqueue(frame)
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

type registeredTransport struct {
	id        string
	transport transport
}

func (r *Registry) snapshot() []registeredTransport {
	r.mu.RLock()
	out := make([]registeredTransport, 0, len(r.byID))
	for connID, reg := range r.byID {
		out = append(out, registeredTransport{id: connID, transport: reg.transport})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
