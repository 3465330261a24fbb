// Package healthsrv exposes the dashboard's component statuses over the standard gRPC
// health protocol. Each component is a service name; the empty service name carries
// the overall status.
package healthsrv

import (
	"context"
	"fmt"
	"net"

	"aquarium-dashboard/pkg/events"
	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/store"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StatusSource provides the snapshot to publish.
type StatusSource interface {
	Status() models.SystemStatus
}

// Server is a running gRPC health endpoint.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	log    zerolog.Logger
}

// Start listens on addr and serves the health service in the background.
func Start(addr string, log zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{srv: srv, health: hs, lis: lis, log: log}

	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health endpoint listening")
		if err := srv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server stopped")
		}
	}()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// ComponentServing maps a component status to a health serving state.
func ComponentServing(value string) healthpb.HealthCheckResponse_ServingStatus {
	switch value {
	case models.StatusNormal, models.StatusOnline, models.StatusOperational:
		return healthpb.HealthCheckResponse_SERVING
	case models.StatusDegraded, models.StatusError, models.StatusCritical, models.StatusOffline:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// OverallServing maps the overall status. A degraded system still serves.
func OverallServing(overall string) healthpb.HealthCheckResponse_ServingStatus {
	switch overall {
	case models.StatusOperational, models.StatusDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case models.StatusCritical:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// Update publishes st.
func (s *Server) Update(st models.SystemStatus) {
	for _, c := range models.Components {
		s.health.SetServingStatus(string(c), ComponentServing(st.Get(c)))
	}
	s.health.SetServingStatus("", OverallServing(st.OverallStatus))
}

// Follow publishes the current status, then republishes whenever the status key changes.
// It returns when ctx is done.
func (s *Server) Follow(ctx context.Context, bus *events.Bus, source StatusSource) {
	changes, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	s.Update(source.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Key == store.KeySystemStatus || c.Key == events.KeyAll {
				s.Update(source.Status())
			}
		}
	}
}

// Shutdown marks everything NOT_SERVING and stops gracefully, forcing a stop when ctx
// expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.srv.Stop()
		return ctx.Err()
	}
}
