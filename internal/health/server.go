// Package health exposes the controller state through the standard gRPC
// health checking protocol so supervisors can probe the tracker.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/monitoring"
	"github.com/banshee-data/aimtrack/internal/timeutil"
)

// ServiceName is reported SERVING while the controller is actively aiming or
// tracking. The empty service reports process liveness and only goes
// NOT_SERVING while the detector is degraded.
const ServiceName = "aimtrack.Controller"

var logf = monitoring.Prefixed("health")

// StatusSource provides controller snapshots.
type StatusSource interface {
	Status() controller.Status
}

type Server struct {
	src    StatusSource
	health *grpchealth.Server
	server *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a health server reading from src. Call Update or Watch to
// refresh the published state.
func New(src StatusSource) *Server {
	s := &Server{
		src:    src,
		health: grpchealth.NewServer(),
		server: grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.Update()
	return s
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Update publishes the current controller status.
func (s *Server) Update() {
	st := s.src.Status()
	s.health.SetServingStatus("", servingStatus(!st.Degraded))
	s.health.SetServingStatus(ServiceName, servingStatus(st.Serving()))
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Watch refreshes the health state every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, clock timeutil.Clock, interval time.Duration) error {
	for {
		s.Update()
		if err := timeutil.SleepContext(ctx, clock, interval); err != nil {
			return err
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	if !s.running.Swap(false) {
		return
	}
	s.server.GracefulStop()
	s.wg.Wait()
	logf("gRPC health stopped")
}
