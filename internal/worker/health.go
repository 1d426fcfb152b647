package worker

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name the worker reports under.
const ServiceName = "chess.worker"

// Health exposes the worker's liveness over the standard gRPC health protocol.
type Health struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealth creates a gRPC server carrying only the health service. Both the
// overall and the worker service start as NOT_SERVING.
func NewHealth(logger *slog.Logger) *Health {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &Health{server: srv, health: hs, logger: logger.With("component", "grpc-health")}
	h.SetServing(false)
	return h
}

// Server returns the underlying gRPC server for Serve/GracefulStop.
func (h *Health) Server() *grpc.Server { return h.server }

// SetServing flips the reported status of the worker.
func (h *Health) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	h.logger.Info("health status changed", "status", status.String())
}

// Shutdown marks every service NOT_SERVING and stops the server.
func (h *Health) Shutdown() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
