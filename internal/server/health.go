package server

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StoreService is the health service name that tracks store availability.
const StoreService = "tangra.assets.v1.Store"

// Health publishes store availability over the standard gRPC health service
// and the HTTP health route.
type Health struct {
	srv *health.Server
}

// NewHealth returns a health server reporting NOT_SERVING until the store
// is opened.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.SetAvailable(false)
	return h
}

// SetAvailable flips both the overall and the store status. It is the
// lifecycle manager's availability callback.
func (h *Health) SetAvailable(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(StoreService, st)
}

// Check reports the store status.
func (h *Health) Check(ctx context.Context) (*healthpb.HealthCheckResponse, error) {
	return h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: StoreService})
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// Server is the gRPC implementation to register.
func (h *Health) Server() healthpb.HealthServer {
	return h.srv
}
