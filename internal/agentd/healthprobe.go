package agentd

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
)

// HealthProbe exposes the standard gRPC health-checking protocol over TCP.
// The host-side health monitor (C5) does not dial it; its agent check lists
// processes through the container engine.
type HealthProbe struct {
	supervisor *Supervisor
	server     *health.Server
}

// NewHealthProbe wires a health.Server for the supervisor. Serve reports
// SERVING from the moment it starts and NOT_SERVING once its context is
// done; individual subprocess exits and restarts do not change the status.
func NewHealthProbe(s *Supervisor) *HealthProbe {
	return &HealthProbe{
		supervisor: s,
		server:     health.NewServer(),
	}
}

// Serve runs the gRPC health service on addr until ctx is cancelled.
func (p *HealthProbe) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Transport, "listen for health probe", err)
	}

	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, p.server)

	p.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() { errCh <- grpcServer.Serve(lis) }()

	go p.watchSupervisor(ctx)

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return bridgeerr.Wrap(bridgeerr.Transport, "health probe server stopped", err)
	}
}

// watchSupervisor flips the reported status to NOT_SERVING once ctx is done,
// which includes Run's errgroup cancelling after the restart loop returns.
func (p *HealthProbe) watchSupervisor(ctx context.Context) {
	<-ctx.Done()
	p.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}
