package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const healthPollInterval = 100 * time.Millisecond

// NewClient opens a lazily connecting, plaintext client for addr that
// propagates trace context. An address with no host targets loopback, so a
// listen address such as ":8091" can be checked as-is.
func NewClient(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	target, err := loopbackTarget(addr)
	if err != nil {
		return nil, err
	}
	dialOpts := append([]gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := gogrpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return conn, nil
}

func loopbackTarget(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("grpc address is required")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("grpc address %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

// AwaitServing polls grpc.health.v1 until service reports SERVING or ctx
// ends. The error names the last status or failure seen.
func AwaitServing(ctx context.Context, conn *gogrpc.ClientConn, service string) error {
	if conn == nil {
		return fmt.Errorf("grpc connection is required")
	}
	client := grpc_health_v1.NewHealthClient(conn)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	var last error
	for {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		switch {
		case err != nil:
			last = err
		case resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING:
			return nil
		default:
			last = fmt.Errorf("status %s", resp.GetStatus())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%q not serving (%v): %w", service, last, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CheckServing dials addr and waits for service to report SERVING within ctx.
func CheckServing(ctx context.Context, addr string, service string) error {
	conn, err := NewClient(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return AwaitServing(ctx, conn, service)
}
