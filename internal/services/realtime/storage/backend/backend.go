// Package backend opens the storage implementation selected by name.
package backend

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/safehaven-connect/safehaven/internal/platform/timeouts"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/memory"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/redis"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/sqlite"
)

// Backend names.
const (
	Memory = "memory"
	SQLite = "sqlite"
	Redis  = "redis"
)

// Config selects and configures one backend.
type Config struct {
	Backend string `env:"SAFEHAVEN_STORAGE_BACKEND" envDefault:"sqlite"`

	SQLitePath string `env:"SAFEHAVEN_SQLITE_PATH" envDefault:"data/safehaven.db"`

	RedisAddr      string `env:"SAFEHAVEN_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"SAFEHAVEN_REDIS_PASSWORD"`
	RedisDB        int    `env:"SAFEHAVEN_REDIS_DB" envDefault:"0"`
	RedisNamespace string `env:"SAFEHAVEN_REDIS_NAMESPACE" envDefault:"safehaven"`

	// DialTimeout bounds the initial connection for network backends.
	DialTimeout time.Duration `env:"SAFEHAVEN_STORAGE_DIAL_TIMEOUT" envDefault:"5s"`
}

// RegisterFlags binds flag overrides for cfg, using its current values as
// defaults.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Backend, "storage", cfg.Backend, "storage backend (memory, sqlite, redis)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis database number")
	fs.StringVar(&cfg.RedisNamespace, "redis-namespace", cfg.RedisNamespace, "redis key namespace")
	fs.DurationVar(&cfg.DialTimeout, "storage-dial-timeout", cfg.DialTimeout, "storage connect timeout")
}

// Open returns the configured store. The caller owns Close.
func Open(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case Memory:
		return memory.New(), nil
	case SQLite, "":
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case Redis:
		if cfg.DialTimeout <= 0 {
			cfg.DialTimeout = timeouts.StoreDial
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		store, err := redis.Open(dialCtx, redis.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
			Timeout:   cfg.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
