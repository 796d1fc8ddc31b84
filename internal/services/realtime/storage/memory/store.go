// Package memory provides an in-process storage implementation for tests and
// single-node demos.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	shelters map[string]domain.Shelter
	alerts   map[string]domain.Alert
	users    map[string]domain.User
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		shelters: make(map[string]domain.Shelter),
		alerts:   make(map[string]domain.Alert),
		users:    make(map[string]domain.User),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// GetShelter returns one shelter by id.
func (s *Store) GetShelter(ctx context.Context, shelterID string) (domain.Shelter, error) {
	if err := ctx.Err(); err != nil {
		return domain.Shelter{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	shelter, ok := s.shelters[strings.TrimSpace(shelterID)]
	if !ok {
		return domain.Shelter{}, storage.ErrNotFound
	}
	return shelter.Clone(), nil
}

// PutShelter upserts a shelter.
func (s *Store) PutShelter(ctx context.Context, shelter domain.Shelter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shelters[shelter.ID] = shelter.Clone()
	return nil
}

// ListShelters returns every shelter ordered by id.
func (s *Store) ListShelters(ctx context.Context) ([]domain.Shelter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Shelter, 0, len(s.shelters))
	for _, shelter := range s.shelters {
		out = append(out, shelter.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alert{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[strings.TrimSpace(alertID)]
	if !ok {
		return domain.Alert{}, storage.ErrNotFound
	}
	return alert, nil
}

// PutAlert upserts an alert.
func (s *Store) PutAlert(ctx context.Context, alert domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert.Normalize()
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if filter.Matches(alert) {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetUser returns one directory entry.
func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.TrimSpace(userID)]
	if !ok {
		return domain.User{}, storage.ErrNotFound
	}
	return user, nil
}

// PutUser upserts a directory entry.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

// RecordLogin stamps the user's last login.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	user.LastLogin = &at
	s.users[userID] = user
	return nil
}
