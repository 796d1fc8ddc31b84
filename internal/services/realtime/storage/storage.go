package storage

import (
	"context"
	"errors"
	"time"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	ShelterID string
	Status    domain.AlertStatus
}

// Matches reports whether alert passes the filter.
func (f AlertFilter) Matches(alert domain.Alert) bool {
	if f.ShelterID != "" && alert.ShelterID != f.ShelterID {
		return false
	}
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	return true
}

// ShelterStore persists canonical shelter state. PutShelter is an upsert keyed
// by shelter id, so retrying a write is safe.
type ShelterStore interface {
	GetShelter(ctx context.Context, shelterID string) (domain.Shelter, error)
	PutShelter(ctx context.Context, shelter domain.Shelter) error
	ListShelters(ctx context.Context) ([]domain.Shelter, error)
}

// AlertStore persists alerts. PutAlert is an upsert keyed by alert id.
type AlertStore interface {
	GetAlert(ctx context.Context, alertID string) (domain.Alert, error)
	PutAlert(ctx context.Context, alert domain.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error)
}

// UserDirectory stores the users allowed to connect.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	PutUser(ctx context.Context, user domain.User) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// Store is the full persistence surface used by the realtime service.
type Store interface {
	ShelterStore
	AlertStore
	UserDirectory
	Close() error
}
