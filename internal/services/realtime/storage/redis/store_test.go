package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

func TestKeyspaceDefaultsNamespace(t *testing.T) {
	t.Parallel()

	keys := newKeyspace(" ")
	if got := keys.shelter("S1"); got != "safehaven:shelter:S1" {
		t.Fatalf("shelter key = %q", got)
	}
	if got := newKeyspace("test").alertIndex(); got != "test:alerts" {
		t.Fatalf("alert index = %q", got)
	}
}

func TestRawValuesSkipsMissingEntries(t *testing.T) {
	t.Parallel()

	got := rawValues([]any{`{"id":"a"}`, nil, []byte(`{"id":"b"}`)})
	if len(got) != 2 {
		t.Fatalf("raw values = %d, want 2", len(got))
	}
}

func TestDecodeSheltersSortsByID(t *testing.T) {
	t.Parallel()

	shelters, err := decodeShelters([][]byte{[]byte(`{"id":"S2"}`), []byte(`{"id":"S1"}`)})
	if err != nil {
		t.Fatalf("decode shelters: %v", err)
	}
	if shelters[0].ID != "S1" || shelters[1].ID != "S2" {
		t.Fatalf("unexpected order %+v", shelters)
	}
	if _, err := decodeShelters([][]byte{[]byte("not json")}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecodeAlertsFiltersAndNormalizes(t *testing.T) {
	t.Parallel()

	raw := [][]byte{
		[]byte(`{"id":"a1","shelterId":"S1","status":"open","timestamp":1000}`),
		[]byte(`{"id":"a2","shelterId":"S2","status":"open","timestamp":2000}`),
		[]byte(`{"id":"a3","shelterId":"S1","status":"open","timestamp":3000}`),
	}
	alerts, err := decodeAlerts(raw, storage.AlertFilter{ShelterID: "S1"})
	if err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != "a3" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if !alerts[0].CreatedAt.Equal(time.UnixMilli(3000)) {
		t.Fatalf("createdAt = %s", alerts[0].CreatedAt)
	}
}

func TestStampLogin(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(domain.User{ID: "u1", Role: domain.RoleAdmin, IsActive: true})
	if err != nil {
		t.Fatalf("encode user: %v", err)
	}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated, err := stampLogin(data, at)
	if err != nil {
		t.Fatalf("stamp login: %v", err)
	}
	var user domain.User
	if err := json.Unmarshal(updated, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.LastLogin == nil || !user.LastLogin.Equal(at) || user.Role != domain.RoleAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
}
