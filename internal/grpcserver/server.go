// Package grpcserver exposes the standard gRPC health service so orchestrators
// can health-check the matcher alongside the HTTP API.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name reported for the matcher.
const ServiceName = "lostfound.Matcher"

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checkers map[string]Checker
	logger   *zap.Logger
}

// New builds a server; checkers are run by Refresh.
func New(logger *zap.Logger, checkers map[string]Checker) *Server {
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		checkers: checkers,
		logger:   logger.Named("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Refresh runs every checker and publishes SERVING only when all pass.
func (s *Server) Refresh(ctx context.Context) bool {
	for name, check := range s.checkers {
		if err := check(ctx); err != nil {
			s.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			return false
		}
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval/2)
			s.Refresh(checkCtx)
			cancel()
		}
	}
}

// Stop marks the service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
