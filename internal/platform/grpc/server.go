package grpc

import (
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC server that exposes grpc.health.v1.Health for one
// named service. It starts NOT_SERVING.
type HealthServer struct {
	server  *gogrpc.Server
	health  *health.Server
	service string
}

// NewHealthServer builds an instrumented gRPC server reporting health for
// service. Extra options are appended after the OTel stats handler.
func NewHealthServer(service string, opts ...gogrpc.ServerOption) *HealthServer {
	serverOpts := append([]gogrpc.ServerOption{gogrpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	server := gogrpc.NewServer(serverOpts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	hs := &HealthServer{server: server, health: healthServer, service: service}
	hs.SetServing(false)
	return hs
}

// SetServing flips the reported status of both the named service and the
// overall server.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	if s.service != "" {
		s.health.SetServingStatus(s.service, status)
	}
}

// Serve accepts connections on lis until Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop marks the server NOT_SERVING and drains in-flight RPCs.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
