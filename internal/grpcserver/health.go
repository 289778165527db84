package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	pb "github.com/joseph-ayodele/docextract/proto"
)

// Pinger is satisfied by repository.DB.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Register installs the ExtractionService and the standard health service on gs.
// Both the overall status and the ExtractionService status start as SERVING.
func Register(gs *grpc.Server, srv *Server) *health.Server {
	pb.RegisterExtractionServiceServer(gs, srv)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(pb.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// WatchDatabase pings the database every interval and flips the health status
// of the ExtractionService accordingly. It returns when ctx is done.
func WatchDatabase(ctx context.Context, hs *health.Server, db Pinger, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := db.HealthCheck(ctx, 3*time.Second)
			switch {
			case err != nil && healthy:
				logger.Error("grpc.health.db_down", "error", err)
				hs.SetServingStatus(pb.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
				healthy = false
			case err == nil && !healthy:
				logger.Info("grpc.health.db_up")
				hs.SetServingStatus(pb.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
				healthy = true
			}
		}
	}
}
