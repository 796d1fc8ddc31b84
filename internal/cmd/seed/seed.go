// Package seed loads demo shelters, users and alerts into a realtime store.
package seed

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	entrypoint "github.com/safehaven-connect/safehaven/internal/platform/cmd"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/backend"
)

//go:embed fixtures/demo.json
var demoFixture []byte

// Config holds seed command configuration.
type Config struct {
	Storage backend.Config
	// Fixture is a JSON file to load instead of the built-in demo data.
	Fixture string `env:"SAFEHAVEN_SEED_FIXTURE"`
	Verbose bool
}

// Fixture is the seed file format.
type Fixture struct {
	Shelters []domain.Shelter `json:"shelters"`
	Users    []domain.User    `json:"users"`
	Alerts   []domain.Alert   `json:"alerts"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	backend.RegisterFlags(fs, &cfg.Storage)
	fs.StringVar(&cfg.Fixture, "fixture", cfg.Fixture, "fixture JSON file (default: built-in demo data)")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose output")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run loads the fixture into the configured store and reports counts to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	fixture, err := loadFixture(cfg.Fixture)
	if err != nil {
		return err
	}
	store, err := backend.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(ctx context.Context) error {
		return Apply(ctx, store, fixture, cfg.Verbose, out)
	})
}

// Apply validates fixture and upserts every record into store. Loading the
// same fixture twice leaves the store unchanged.
func Apply(ctx context.Context, store storage.Store, fixture Fixture, verbose bool, out io.Writer) error {
	if store == nil {
		return errors.New("store is required")
	}
	if err := fixture.Validate(); err != nil {
		return err
	}
	for _, shelter := range fixture.Shelters {
		if err := store.PutShelter(ctx, shelter); err != nil {
			return fmt.Errorf("put shelter %s: %w", shelter.ID, err)
		}
		if verbose {
			fmt.Fprintf(out, "shelter %s\n", shelter.ID)
		}
	}
	for _, user := range fixture.Users {
		if err := store.PutUser(ctx, user); err != nil {
			return fmt.Errorf("put user %s: %w", user.ID, err)
		}
		if verbose {
			fmt.Fprintf(out, "user %s (%s)\n", user.ID, user.Role)
		}
	}
	for _, alert := range fixture.Alerts {
		if err := store.PutAlert(ctx, alert.Normalize()); err != nil {
			return fmt.Errorf("put alert %s: %w", alert.ID, err)
		}
		if verbose {
			fmt.Fprintf(out, "alert %s\n", alert.ID)
		}
	}
	_, err := fmt.Fprintf(out, "seeded %d shelters, %d users, %d alerts\n",
		len(fixture.Shelters), len(fixture.Users), len(fixture.Alerts))
	return err
}

// Validate checks records and the references between them.
func (f Fixture) Validate() error {
	shelters := make(map[string]bool, len(f.Shelters))
	for _, shelter := range f.Shelters {
		if err := shelter.Validate(); err != nil {
			return fmt.Errorf("shelter %q: %w", shelter.ID, err)
		}
		shelters[shelter.ID] = true
	}
	for _, user := range f.Users {
		if strings.TrimSpace(user.ID) == "" {
			return errors.New("user id is required")
		}
		if !user.Role.Valid() {
			return fmt.Errorf("user %q: role %q is invalid", user.ID, user.Role)
		}
		if user.ShelterID != "" && !shelters[user.ShelterID] {
			return fmt.Errorf("user %q: unknown shelter %q", user.ID, user.ShelterID)
		}
	}
	for _, alert := range f.Alerts {
		if strings.TrimSpace(alert.ID) == "" {
			return errors.New("alert id is required")
		}
		if !shelters[alert.ShelterID] {
			return fmt.Errorf("alert %q: unknown shelter %q", alert.ID, alert.ShelterID)
		}
		if !alert.Type.Valid() || !alert.Priority.Valid() || !alert.Status.Valid() {
			return fmt.Errorf("alert %q: type, priority or status is invalid", alert.ID)
		}
		if alert.Timestamp <= 0 {
			return fmt.Errorf("alert %q: timestamp is required", alert.ID)
		}
	}
	return nil
}

func loadFixture(path string) (Fixture, error) {
	raw := demoFixture
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Fixture{}, fmt.Errorf("read fixture: %w", err)
		}
		raw = data
	}
	var fixture Fixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return fixture, nil
}
