package domain

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testShelter() Shelter {
	return Shelter{
		ID:       "S1",
		Name:     "Central High Gym",
		Capacity: Capacity{Current: 10, Maximum: 50},
		Resources: Resources{
			Food:    ResourceAdequate,
			Water:   ResourceAdequate,
			Medical: ResourceLow,
			Bedding: ResourceAdequate,
		},
		Status:      ShelterAvailable,
		OperatorID:  "op-1",
		UrgentNeeds: []string{"blankets"},
		LastUpdated: baseTime,
		CreatedAt:   baseTime,
	}
}

func ptr[T any](v T) *T { return &v }

func TestApplyUpdateCapacityThenStatus(t *testing.T) {
	t1 := baseTime.Add(time.Minute)
	t2 := t1.Add(time.Minute)

	state, err := ApplyUpdate(testShelter(), ShelterStatusUpdate{
		Capacity:  &Capacity{Current: 25, Maximum: 50},
		Timestamp: At(t1),
	})
	if err != nil {
		t.Fatalf("apply capacity update: %v", err)
	}
	state, err = ApplyUpdate(state, ShelterStatusUpdate{
		Status:    ptr(ShelterEmergency),
		Timestamp: At(t2),
	})
	if err != nil {
		t.Fatalf("apply status update: %v", err)
	}

	if state.Capacity.Current != 25 || state.Status != ShelterEmergency {
		t.Fatalf("unexpected state capacity=%d status=%q", state.Capacity.Current, state.Status)
	}
	if !state.LastUpdated.Equal(t2) {
		t.Fatalf("lastUpdated = %s, want %s", state.LastUpdated, t2)
	}

	_, err = ApplyUpdate(state, ShelterStatusUpdate{
		Status:    ptr(ShelterAvailable),
		Timestamp: At(t2.Add(-time.Second)),
	})
	if !apperrors.HasCode(err, apperrors.CodeStaleUpdate) {
		t.Fatalf("expected stale update error, got %v", err)
	}
}

func TestApplyUpdateLastWriteWinsPerField(t *testing.T) {
	updates := []ShelterStatusUpdate{
		{Capacity: &Capacity{Current: 12, Maximum: 50}, Timestamp: At(baseTime.Add(1 * time.Second))},
		{Resources: &ResourcePatch{Water: ptr(ResourceLow)}, Timestamp: At(baseTime.Add(2 * time.Second))},
		{Status: ptr(ShelterLimited), Timestamp: At(baseTime.Add(3 * time.Second))},
		{Capacity: &Capacity{Current: 51, Maximum: 50}, Timestamp: At(baseTime.Add(4 * time.Second))},
		{Resources: &ResourcePatch{Water: ptr(ResourceCritical), Food: ptr(ResourceLow)}, Timestamp: At(baseTime.Add(5 * time.Second))},
		{UrgentNeeds: []string{" water ", "", "insulin"}, Timestamp: At(baseTime.Add(6 * time.Second))},
	}

	state := testShelter()
	for i, update := range updates {
		var err error
		state, err = ApplyUpdate(state, update)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	want := Resources{Food: ResourceLow, Water: ResourceCritical, Medical: ResourceLow, Bedding: ResourceAdequate}
	if state.Resources != want {
		t.Fatalf("resources = %+v, want %+v", state.Resources, want)
	}
	if state.Capacity != (Capacity{Current: 51, Maximum: 50}) {
		t.Fatalf("capacity = %+v", state.Capacity)
	}
	if !state.Capacity.OverCapacity() {
		t.Fatal("expected over-capacity to be reported")
	}
	if state.Status != ShelterLimited {
		t.Fatalf("status = %q", state.Status)
	}
	if len(state.UrgentNeeds) != 2 || state.UrgentNeeds[0] != "water" || state.UrgentNeeds[1] != "insulin" {
		t.Fatalf("urgentNeeds = %v", state.UrgentNeeds)
	}
	if !state.LastUpdated.Equal(baseTime.Add(6 * time.Second)) {
		t.Fatalf("lastUpdated = %s", state.LastUpdated)
	}
}

func TestApplyUpdateStaleLeavesStateUntouched(t *testing.T) {
	current := testShelter()
	current.LastUpdated = baseTime.Add(time.Hour)

	_, err := ApplyUpdate(current, ShelterStatusUpdate{
		Capacity:  &Capacity{Current: 1, Maximum: 50},
		Timestamp: At(baseTime),
	})
	if !apperrors.HasCode(err, apperrors.CodeStaleUpdate) {
		t.Fatalf("expected stale update, got %v", err)
	}
	if current.Capacity.Current != 10 {
		t.Fatal("current state must not change")
	}
}

func TestApplyUpdateEqualTimestampIsAccepted(t *testing.T) {
	state, err := ApplyUpdate(testShelter(), ShelterStatusUpdate{
		Status:    ptr(ShelterFull),
		Timestamp: At(baseTime),
	})
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if state.Status != ShelterFull {
		t.Fatalf("status = %q", state.Status)
	}
}

func TestApplyUpdateDoesNotAliasUrgentNeeds(t *testing.T) {
	current := testShelter()
	next, err := ApplyUpdate(current, ShelterStatusUpdate{Status: ptr(ShelterFull), Timestamp: At(baseTime.Add(time.Second))})
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	next.UrgentNeeds[0] = "changed"
	if current.UrgentNeeds[0] != "blankets" {
		t.Fatal("expected merge to copy urgent needs")
	}
}

func TestApplyUpdateEmptyNeedsClearsList(t *testing.T) {
	state, err := ApplyUpdate(testShelter(), ShelterStatusUpdate{UrgentNeeds: []string{}, Timestamp: At(baseTime.Add(time.Second))})
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if len(state.UrgentNeeds) != 0 {
		t.Fatalf("expected urgent needs cleared, got %v", state.UrgentNeeds)
	}
}

func TestShelterStatusUpdateValidate(t *testing.T) {
	tests := []struct {
		name   string
		update ShelterStatusUpdate
	}{
		{name: "missing timestamp", update: ShelterStatusUpdate{Status: ptr(ShelterFull)}},
		{name: "negative current", update: ShelterStatusUpdate{Capacity: &Capacity{Current: -1, Maximum: 5}, Timestamp: At(baseTime)}},
		{name: "unknown status", update: ShelterStatusUpdate{Status: ptr(ShelterStatus("closed")), Timestamp: At(baseTime)}},
		{name: "unknown level", update: ShelterStatusUpdate{Resources: &ResourcePatch{Food: ptr(ResourceLevel("plenty"))}, Timestamp: At(baseTime)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.update.Validate(); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestShelterStatusUpdateDecodesPartialJSON(t *testing.T) {
	raw := `{"resources":{"water":"low"},"timestamp":"2026-03-01T12:00:05Z"}`
	var update ShelterStatusUpdate
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Capacity != nil || update.Status != nil || update.UrgentNeeds != nil {
		t.Fatalf("expected absent fields to stay nil: %+v", update)
	}
	if update.Resources == nil || update.Resources.Water == nil || *update.Resources.Water != ResourceLow || update.Resources.Food != nil {
		t.Fatalf("unexpected resources patch %+v", update.Resources)
	}
	if !update.Timestamp.Equal(baseTime.Add(5 * time.Second)) {
		t.Fatalf("timestamp = %s", update.Timestamp)
	}
}

func TestTimestampJSON(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte("1772366400000"), &ts); err != nil {
		t.Fatalf("decode millis: %v", err)
	}
	if !ts.Equal(time.UnixMilli(1772366400000)) {
		t.Fatalf("timestamp = %s", ts)
	}
	encoded, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(encoded) != "1772366400000" {
		t.Fatalf("encoded = %s", encoded)
	}
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}
