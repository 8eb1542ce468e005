package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aescanero/dago-studio/internal/domain"
)

// BackendService is the health service name that follows the execution
// backend connection. The empty name reports the server itself.
const BackendService = "dago.studio.Backend"

// StatusSource reports channel status changes
type StatusSource interface {
	Status() domain.ConnectionRecord
	OnStatusChange(fn func(domain.ConnectionRecord)) func()
}

// Server represents the gRPC API server
type Server struct {
	server      *grpc.Server
	listener    net.Listener
	health      *health.Server
	unsubscribe func()
	logger      *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port    int
	Channel StatusSource
	Logger  *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return newServer(listener, cfg), nil
}

func newServer(listener net.Listener, cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   hs,
		logger:   logger,
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if cfg.Channel != nil {
		s.setBackendStatus(cfg.Channel.Status())
		s.unsubscribe = cfg.Channel.OnStatusChange(s.setBackendStatus)
	} else {
		hs.SetServingStatus(BackendService, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	}

	return s
}

func (s *Server) setBackendStatus(rec domain.ConnectionRecord) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if rec.Status == domain.ConnectionStatusConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(BackendService, status)
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server, falling back to a hard stop
// when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
		<-stopped
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
