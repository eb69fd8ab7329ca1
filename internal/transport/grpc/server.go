package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe reports whether one dependency can currently serve requests.
type Probe func() bool

// Server exposes the standard gRPC health service. Each probe is published
// under its own service name; the empty name aggregates all of them.
type Server struct {
	addr     string
	srv      *grpc.Server
	health   *health.Server
	probes   map[string]Probe
	interval time.Duration
}

func NewServer(addr string, probes map[string]Probe) *Server {
	s := &Server{
		addr:     addr,
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		probes:   probes,
		interval: 5 * time.Second,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.refresh()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve runs the server on lis and keeps the health statuses current until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, probe := range s.probes {
		status := healthpb.HealthCheckResponse_SERVING
		if !probe() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}
