package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

// Timestamp accepts either unix milliseconds or an RFC 3339 string on the
// wire and always encodes as unix milliseconds.
type Timestamp struct {
	time.Time
}

// At wraps t, truncated to millisecond precision.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("timestamp must be RFC 3339 or unix milliseconds: %w", err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be RFC 3339 or unix milliseconds: %w", err)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// ResourcePatch changes only the categories it names.
type ResourcePatch struct {
	Food    *ResourceLevel `json:"food,omitempty"`
	Water   *ResourceLevel `json:"water,omitempty"`
	Medical *ResourceLevel `json:"medical,omitempty"`
	Bedding *ResourceLevel `json:"bedding,omitempty"`
}

func (p ResourcePatch) levels() []*ResourceLevel {
	return []*ResourceLevel{p.Food, p.Water, p.Medical, p.Bedding}
}

func (p ResourcePatch) apply(current Resources) Resources {
	if p.Food != nil {
		current.Food = *p.Food
	}
	if p.Water != nil {
		current.Water = *p.Water
	}
	if p.Medical != nil {
		current.Medical = *p.Medical
	}
	if p.Bedding != nil {
		current.Bedding = *p.Bedding
	}
	return current
}

// ShelterStatusUpdate is a partial update submitted by an operator. Absent
// fields keep their current value; UrgentNeeds is absent when nil and clears
// the list when empty.
type ShelterStatusUpdate struct {
	Capacity    *Capacity      `json:"capacity,omitempty"`
	Resources   *ResourcePatch `json:"resources,omitempty"`
	Status      *ShelterStatus `json:"status,omitempty"`
	UrgentNeeds []string       `json:"urgentNeeds,omitempty"`
	Timestamp   Timestamp      `json:"timestamp"`
}

// Validate checks field-level constraints without looking at current state.
func (u ShelterStatusUpdate) Validate() error {
	if u.Timestamp.IsZero() {
		return apperrors.New(apperrors.CodeInvalidArgument, "timestamp is required")
	}
	if u.Capacity != nil {
		if err := u.Capacity.Validate(); err != nil {
			return err
		}
	}
	if u.Status != nil && !u.Status.Valid() {
		return apperrors.New(apperrors.CodeInvalidArgument, "status is invalid")
	}
	if u.Resources != nil {
		for _, level := range u.Resources.levels() {
			if level != nil && !level.Valid() {
				return apperrors.New(apperrors.CodeInvalidArgument, "resource level is invalid")
			}
		}
	}
	return nil
}

// IsEmpty reports whether the update carries no field besides its timestamp.
func (u ShelterStatusUpdate) IsEmpty() bool {
	return u.Capacity == nil && u.Resources == nil && u.Status == nil && u.UrgentNeeds == nil
}

// ApplyUpdate merges update into current and returns the new canonical state.
//
// Updates older than current.LastUpdated are rejected with a STALE_UPDATE
// error. An update carrying the same timestamp as the current state is
// accepted and wins, so two updates stamped within the same millisecond are
// applied in arrival order.
func ApplyUpdate(current Shelter, update ShelterStatusUpdate) (Shelter, error) {
	if err := update.Validate(); err != nil {
		return Shelter{}, err
	}
	at := update.Timestamp.Time.UTC()
	if at.Before(current.LastUpdated) {
		return Shelter{}, apperrors.WithMetadata(
			apperrors.CodeStaleUpdate,
			"update is older than the shelter's current state",
			map[string]string{
				"shelterId":   current.ID,
				"lastUpdated": strconv.FormatInt(current.LastUpdated.UnixMilli(), 10),
				"timestamp":   strconv.FormatInt(at.UnixMilli(), 10),
			},
		)
	}

	next := current.Clone()
	if update.Capacity != nil {
		next.Capacity = *update.Capacity
	}
	if update.Resources != nil {
		next.Resources = update.Resources.apply(next.Resources)
	}
	if update.Status != nil {
		next.Status = *update.Status
	}
	if update.UrgentNeeds != nil {
		next.UrgentNeeds = normalizeNeeds(update.UrgentNeeds)
	}
	next.LastUpdated = at
	return next, nil
}

func normalizeNeeds(needs []string) []string {
	out := make([]string, 0, len(needs))
	for _, need := range needs {
		if need = strings.TrimSpace(need); need != "" {
			out = append(out, need)
		}
	}
	return out
}
