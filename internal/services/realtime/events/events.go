// Package events publishes committed shelter and alert changes to an external
// feed.
package events

import (
	"context"
	"time"
)

// Kind names a committed change.
type Kind string

const (
	KindShelterUpdated Kind = "shelter.updated"
	KindAlertCreated   Kind = "alert.created"
	KindAlertUpdated   Kind = "alert.updated"
)

// Event is one committed change. ShelterID keys the feed so consumers see
// each shelter's events in commit order.
type Event struct {
	Kind      Kind      `json:"kind"`
	ShelterID string    `json:"shelterId"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// Publisher delivers committed events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
