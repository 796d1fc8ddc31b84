package domain

import (
	"strings"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

// ShelterStatus is the lifecycle state of a shelter.
type ShelterStatus string

const (
	ShelterAvailable ShelterStatus = "available"
	ShelterLimited   ShelterStatus = "limited"
	ShelterFull      ShelterStatus = "full"
	ShelterEmergency ShelterStatus = "emergency"
	ShelterOffline   ShelterStatus = "offline"
)

// Valid reports whether s is a known shelter status.
func (s ShelterStatus) Valid() bool {
	switch s {
	case ShelterAvailable, ShelterLimited, ShelterFull, ShelterEmergency, ShelterOffline:
		return true
	default:
		return false
	}
}

// ResourceLevel grades how well a shelter is stocked in one category.
type ResourceLevel string

const (
	ResourceAdequate    ResourceLevel = "adequate"
	ResourceLow         ResourceLevel = "low"
	ResourceCritical    ResourceLevel = "critical"
	ResourceUnavailable ResourceLevel = "unavailable"
)

// Valid reports whether l is a known resource level.
func (l ResourceLevel) Valid() bool {
	switch l {
	case ResourceAdequate, ResourceLow, ResourceCritical, ResourceUnavailable:
		return true
	default:
		return false
	}
}

// Location places a shelter on the map.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Capacity is replaced wholesale by updates. Current may exceed Maximum; that
// is an over-capacity signal, not an invalid state.
type Capacity struct {
	Current int `json:"current"`
	Maximum int `json:"maximum"`
}

// Validate enforces non-negative counts.
func (c Capacity) Validate() error {
	if c.Current < 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "capacity.current must be >= 0")
	}
	if c.Maximum < 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "capacity.maximum must be >= 0")
	}
	return nil
}

// OverCapacity reports whether occupancy has reached or passed the maximum.
func (c Capacity) OverCapacity() bool {
	return c.Maximum > 0 && c.Current >= c.Maximum
}

// Resources holds the stock level of every tracked category.
type Resources struct {
	Food    ResourceLevel `json:"food"`
	Water   ResourceLevel `json:"water"`
	Medical ResourceLevel `json:"medical"`
	Bedding ResourceLevel `json:"bedding"`
}

// ContactInfo is how responders reach a shelter.
type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Shelter is the canonical state of one shelter.
type Shelter struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Location    Location      `json:"location"`
	Capacity    Capacity      `json:"capacity"`
	Resources   Resources     `json:"resources"`
	Status      ShelterStatus `json:"status"`
	OperatorID  string        `json:"operatorId"`
	ContactInfo ContactInfo   `json:"contactInfo"`
	UrgentNeeds []string      `json:"urgentNeeds"`
	LastUpdated time.Time     `json:"lastUpdated"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Clone returns a deep copy so callers never share the urgent needs slice
// with the canonical cache.
func (s Shelter) Clone() Shelter {
	if s.UrgentNeeds != nil {
		s.UrgentNeeds = append([]string(nil), s.UrgentNeeds...)
	}
	return s
}

// Validate checks a shelter before it is registered or stored.
func (s Shelter) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "shelter id is required")
	}
	if !s.Status.Valid() {
		return apperrors.New(apperrors.CodeInvalidArgument, "shelter status is invalid")
	}
	if err := s.Capacity.Validate(); err != nil {
		return err
	}
	for _, level := range []ResourceLevel{s.Resources.Food, s.Resources.Water, s.Resources.Medical, s.Resources.Bedding} {
		if !level.Valid() {
			return apperrors.New(apperrors.CodeInvalidArgument, "shelter resource level is invalid")
		}
	}
	if s.CreatedAt.IsZero() {
		return apperrors.New(apperrors.CodeInvalidArgument, "shelter createdAt is required")
	}
	if s.LastUpdated.Before(s.CreatedAt) {
		return apperrors.New(apperrors.CodeInvalidArgument, "shelter lastUpdated must not precede createdAt")
	}
	return nil
}
