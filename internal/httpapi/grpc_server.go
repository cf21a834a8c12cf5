package httpapi

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trullo.app/internal/obs"
)

// HealthServer publishes readiness over the standard gRPC health protocol.
// The overall ("") service and serviceName share one status.
type HealthServer struct {
	*health.Server

	readiness readinessChecker
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewHealthServer creates a health server seeded with one readiness check.
func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	s := &HealthServer{
		Server:    health.NewServer(),
		readiness: r,
		stop:      make(chan struct{}),
	}
	s.Refresh(context.Background())
	return s
}

// Refresh runs the readiness check once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	ok := s.readiness.Check(ctx) == nil
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(ok)
	s.SetServingStatus("", status)
	s.SetServingStatus(serviceName, status)
	return ok
}

// Poll refreshes status every interval until ctx ends or Stop is called.
func (s *HealthServer) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Stop marks every service NOT_SERVING and ends Poll.
func (s *HealthServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.Shutdown()
	})
}
