package seed

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/memory"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Fixture != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("SAFEHAVEN_SEED_FIXTURE", "env.json")
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-storage", "memory", "-v"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Storage.Backend != "memory" || cfg.Fixture != "env.json" || !cfg.Verbose {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDemoFixtureIsValid(t *testing.T) {
	fixture, err := loadFixture("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := fixture.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(fixture.Shelters) == 0 || len(fixture.Users) == 0 || len(fixture.Alerts) == 0 {
		t.Fatalf("fixture is missing records: %+v", fixture)
	}
}

func TestApplyLoadsFixtureIdempotently(t *testing.T) {
	ctx := context.Background()
	fixture, err := loadFixture("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	store := memory.New()
	out := &bytes.Buffer{}
	for i := 0; i < 2; i++ {
		if err := Apply(ctx, store, fixture, false, out); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	shelters, err := store.ListShelters(ctx)
	if err != nil {
		t.Fatalf("list shelters: %v", err)
	}
	if len(shelters) != len(fixture.Shelters) {
		t.Fatalf("shelters = %d, want %d", len(shelters), len(fixture.Shelters))
	}
	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].CreatedAt.UnixMilli() != alerts[0].Timestamp {
		t.Fatalf("alerts = %+v", alerts)
	}
	user, err := store.GetUser(ctx, "user_op_riverside")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != domain.RoleShelterOperator || user.ShelterID != "shelter_riverside" {
		t.Fatalf("user = %+v", user)
	}
	if !strings.Contains(out.String(), "seeded 2 shelters, 4 users, 1 alerts") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestValidateRejectsDanglingShelter(t *testing.T) {
	fixture := Fixture{Users: []domain.User{{ID: "u1", Role: domain.RoleShelterOperator, ShelterID: "missing"}}}
	if err := fixture.Validate(); err == nil {
		t.Fatal("expected unknown shelter error")
	}
}

func TestRunWithFixtureFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.json")
	if err := os.WriteFile(path, []byte(`{"shelters":[],"users":[{"id":"u1","role":"admin","isActive":true}],"alerts":[]}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg := Config{Fixture: path}
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(dir, "seed.db")
	out := &bytes.Buffer{}
	if err := Run(context.Background(), cfg, out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "1 users") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunRejectsBadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Config{Fixture: path}
	cfg.Storage.Backend = "memory"
	if err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected decode error")
	}
}
