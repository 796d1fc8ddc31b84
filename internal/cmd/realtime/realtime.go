// Package realtime parses realtime command flags and composes the service.
package realtime

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/safehaven-connect/safehaven/internal/platform/cmd"
	platformgrpc "github.com/safehaven-connect/safehaven/internal/platform/grpc"
	server "github.com/safehaven-connect/safehaven/internal/services/realtime/app"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/events"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/identity"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage/backend"
)

// Config holds realtime command configuration.
type Config struct {
	HTTPAddr string `env:"SAFEHAVEN_HTTP_ADDR" envDefault:":8090"`
	GRPCAddr string `env:"SAFEHAVEN_GRPC_ADDR" envDefault:":8091"`

	Storage backend.Config

	KafkaBrokers string `env:"SAFEHAVEN_KAFKA_BROKERS"`
	KafkaTopic   string `env:"SAFEHAVEN_KAFKA_TOPIC" envDefault:"safehaven.events"`

	JWTSecret string `env:"SAFEHAVEN_JWT_SECRET"`
	JWTIssuer string `env:"SAFEHAVEN_JWT_ISSUER" envDefault:"safehaven"`

	AuthTimeout       time.Duration `env:"SAFEHAVEN_AUTH_TIMEOUT" envDefault:"10s"`
	HeartbeatInterval time.Duration `env:"SAFEHAVEN_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"SAFEHAVEN_HEARTBEAT_TIMEOUT" envDefault:"10s"`
	PersistTimeout    time.Duration `env:"SAFEHAVEN_PERSIST_TIMEOUT" envDefault:"5s"`
	MaxClockSkew      time.Duration `env:"SAFEHAVEN_MAX_CLOCK_SKEW" envDefault:"5m"`
	SendQueueSize     int           `env:"SAFEHAVEN_SEND_QUEUE_SIZE" envDefault:"64"`
	MaxConnections    int           `env:"SAFEHAVEN_MAX_CONNECTIONS" envDefault:"0"`

	// HealthCheck checks a running instance's gRPC health endpoint instead of
	// serving.
	HealthCheck bool
}

// healthCheckTimeout bounds a -healthcheck run.
const healthCheckTimeout = 3 * time.Second

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "realtime HTTP/WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	backend.RegisterFlags(fs, &cfg.Storage)
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "comma-separated Kafka brokers for the event feed (empty disables)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for the event feed")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", cfg.JWTIssuer, "required JWT issuer (empty accepts any)")
	fs.DurationVar(&cfg.AuthTimeout, "auth-timeout", cfg.AuthTimeout, "time a new connection has to authenticate")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "ping interval")
	fs.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "unanswered ping deadline")
	fs.DurationVar(&cfg.PersistTimeout, "persist-timeout", cfg.PersistTimeout, "per-call persistence timeout")
	fs.DurationVar(&cfg.MaxClockSkew, "max-clock-skew", cfg.MaxClockSkew, "how far in the future an update timestamp may be (negative disables)")
	fs.IntVar(&cfg.SendQueueSize, "send-queue-size", cfg.SendQueueSize, "outbound frames buffered per connection")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "concurrent TCP connection cap (0 = unlimited)")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "check the gRPC health endpoint at -grpc-addr and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Brokers returns the configured Kafka brokers.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Run opens storage and the event feed, then serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRealtime, func(ctx context.Context) error {
		secret := strings.TrimSpace(cfg.JWTSecret)
		if secret == "" {
			return errors.New("SAFEHAVEN_JWT_SECRET is required")
		}

		store, err := backend.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("realtime: close store: %v", err)
			}
		}()

		publisher, err := newPublisher(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Printf("realtime: close event feed: %v", err)
			}
		}()

		verifier, err := identity.NewVerifier([]byte(secret),
			identity.WithDirectory(store),
			identity.WithIssuer(cfg.JWTIssuer),
		)
		if err != nil {
			return err
		}

		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			GRPCAddr:          cfg.GRPCAddr,
			Store:             store,
			Publisher:         publisher,
			Verifier:          verifier,
			AuthTimeout:       cfg.AuthTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
			PersistTimeout:    cfg.PersistTimeout,
			MaxClockSkew:      cfg.MaxClockSkew,
			SendQueueSize:     cfg.SendQueueSize,
			MaxConnections:    cfg.MaxConnections,
		}); err != nil {
			return fmt.Errorf("serve realtime: %w", err)
		}
		return nil
	})
}

// CheckHealth reports whether the instance listening on cfg.GRPCAddr is
// SERVING. It is meant for container health checks.
func CheckHealth(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		return errors.New("healthcheck requires a grpc address")
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := platformgrpc.CheckServing(ctx, cfg.GRPCAddr, server.HealthServiceName); err != nil {
		return fmt.Errorf("healthcheck %s: %w", cfg.GRPCAddr, err)
	}
	return nil
}

func newPublisher(cfg Config) (events.Publisher, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Printf("realtime: event feed disabled: no kafka brokers configured")
		return events.Nop{}, nil
	}
	publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      brokers,
		Topic:        cfg.KafkaTopic,
		WriteTimeout: cfg.PersistTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init event feed: %w", err)
	}
	log.Printf("realtime: publishing events to %s on %v", cfg.KafkaTopic, brokers)
	return publisher, nil
}
