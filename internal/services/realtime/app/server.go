// Package server hosts the realtime shelter service: the WebSocket hub, the
// read API, metrics and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	platformgrpc "github.com/safehaven-connect/safehaven/internal/platform/grpc"
	"github.com/safehaven-connect/safehaven/internal/platform/timeouts"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/events"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
	"golang.org/x/net/netutil"
)

// HealthServiceName is the service name reported over grpc.health.v1.
const HealthServiceName = "safehaven.realtime"

const (
	defaultSendQueueSize      = 64
	defaultMaxFrameBytes      = 16 * 1024
	defaultMaxFramesPerSecond = 40
	defaultMaxClockSkew       = 5 * time.Minute
)

// Config defines the inputs for the realtime server.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store     storage.Store
	Publisher events.Publisher
	Verifier  CredentialVerifier

	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	PersistTimeout    time.Duration
	WriteTimeout      time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	SendQueueSize      int
	MaxClockSkew       time.Duration
	MaxConnections     int
	MaxFrameBytes      int64
	MaxFramesPerSecond int
	// MaxDecodeErrors closes a connection after that many consecutive
	// undecodable frames. Zero keeps the connection open.
	MaxDecodeErrors int
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = timeouts.Authenticate
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = timeouts.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = timeouts.HeartbeatTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = timeouts.Persist
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = timeouts.Write
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = timeouts.Shutdown
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.MaxClockSkew == 0 {
		c.MaxClockSkew = defaultMaxClockSkew
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.MaxFramesPerSecond <= 0 {
		c.MaxFramesPerSecond = defaultMaxFramesPerSecond
	}
	return c
}

// Server hosts the realtime HTTP/WebSocket process and its gRPC health
// endpoint.
type Server struct {
	hub             *hub
	httpServer      *http.Server
	httpListener    net.Listener
	grpcServer      *platformgrpc.HealthServer
	grpcListener    net.Listener
	shutdownTimeout time.Duration
	closeOnce       sync.Once
}

// NewServer binds the configured listeners and warms the shelter cache.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Verifier == nil {
		return nil, errors.New("credential verifier is required")
	}
	config = config.withDefaults()

	h := newHub(config, time.Now)
	if err := h.ingestor.Warm(ctx); err != nil {
		return nil, fmt.Errorf("warm shelter cache: %w", err)
	}

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", httpAddr, err)
	}
	if config.MaxConnections > 0 {
		httpListener = netutil.LimitListener(httpListener, config.MaxConnections)
	}

	server := &Server{
		hub: h,
		httpServer: &http.Server{
			Handler:           newHandler(h),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		httpListener:    httpListener,
		shutdownTimeout: config.ShutdownTimeout,
	}

	if grpcAddr := strings.TrimSpace(config.GRPCAddr); grpcAddr != "" {
		grpcListener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = httpListener.Close()
			return nil, fmt.Errorf("listen grpc %s: %w", grpcAddr, err)
		}
		server.grpcListener = grpcListener
		server.grpcServer = platformgrpc.NewHealthServer(HealthServiceName)
	}
	return server, nil
}

// Run creates and serves a realtime server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init realtime server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve realtime: %w", err)
	}
	return nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// ListenAndServe serves until the context ends, then drains connections and
// in-flight commits.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("realtime server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 2)
	log.Printf("realtime: http listening on %s", s.HTTPAddr())
	go func() {
		serveErr <- s.httpServer.Serve(s.httpListener)
	}()
	if s.grpcServer != nil {
		log.Printf("realtime: grpc health listening on %s", s.GRPCAddr())
		go func() {
			serveErr <- s.grpcServer.Serve(s.grpcListener)
		}()
		s.grpcServer.SetServing(true)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.hub.heartbeat.run(heartbeatCtx)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.shutdown()
		return fmt.Errorf("serve: %w", err)
	}
}

func (s *Server) shutdown() error {
	if s.grpcServer != nil {
		s.grpcServer.SetServing(false)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.closeAll(websocket.CloseGoingAway, "server shutting down")
	s.hub.drain()
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases listeners and connections. It is safe to call after
// ListenAndServe returns.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		_ = s.httpServer.Close()
		_ = s.httpListener.Close()
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.grpcListener != nil {
			_ = s.grpcListener.Close()
		}
		s.hub.closeAll(websocket.CloseGoingAway, "server closed")
	})
}
