package backend

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/memory"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/sqlite"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), Config{Backend: "Memory"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("store = %T, want *memory.Store", store)
	}
}

func TestOpenSQLiteIsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.db")
	store, err := Open(context.Background(), Config{SQLitePath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("store = %T, want *sqlite.Store", store)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	tests := []Config{
		{Backend: SQLite},
		{Backend: Redis},
		{Backend: "postgres"},
	}
	for _, cfg := range tests {
		if store, err := Open(context.Background(), cfg); err == nil {
			_ = store.Close()
			t.Fatalf("open %+v succeeded", cfg)
		}
	}
}

func TestRegisterFlagsOverrides(t *testing.T) {
	cfg := Config{Backend: SQLite, SQLitePath: "a.db"}
	fs := flag.NewFlagSet("backend", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	if err := fs.Parse([]string{"-storage", "redis", "-redis-addr", "cache:6379", "-redis-db", "2"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend != Redis || cfg.RedisAddr != "cache:6379" || cfg.RedisDB != 2 || cfg.SQLitePath != "a.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
