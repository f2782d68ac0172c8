// Package status exposes calibration readiness over the standard gRPC
// health protocol, so UIs and scripts can Watch for Prepared.
package status

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/monitoring"
)

var logf = monitoring.Prefixed("status")

// stopGrace bounds how long Stop waits for open streams such as Watch.
const stopGrace = time.Second

// ServiceName is the health service reporting calibration readiness.
const ServiceName = "colocate.calibration"

// Source is the part of calibration.Coordinator the status server follows.
type Source interface {
	Snapshot() calibration.Snapshot
	Subscribe() (string, <-chan calibration.Snapshot)
	Unsubscribe(id string)
}

// Server serves grpc.health.v1.Health. ServiceName is NOT_SERVING until the
// coordinator reaches Prepared; the empty service reports the process
// itself.
type Server struct {
	src    Source
	health *health.Server

	running  atomic.Bool
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
	grace    time.Duration
}

// New creates a server reporting NOT_SERVING for ServiceName.
func New(src Source) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{src: src, health: h, grace: stopGrace}
}

// Register adds the health service to gs.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

func statusFor(snap calibration.Snapshot) healthpb.HealthCheckResponse_ServingStatus {
	if snap.State.Stage == calibration.StagePrepared {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Follow tracks coordinator snapshots until ctx is done or the
// subscription closes. Each notification re-reads the current snapshot.
func (s *Server) Follow(ctx context.Context) {
	id, ch := s.src.Subscribe()
	defer s.src.Unsubscribe(id)

	last := statusFor(s.src.Snapshot())
	s.health.SetServingStatus(ServiceName, last)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			// Publishers drop snapshots for slow subscribers, so the
			// notification only says something changed.
			snap := s.src.Snapshot()
			if st := statusFor(snap); st != last {
				logf("%s: %s -> %s (%s)", ServiceName, last, st, snap.StateName)
				last = st
				s.health.SetServingStatus(ServiceName, st)
			}
		}
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("status server already running")
	}
	s.listener = lis
	s.server = grpc.NewServer()
	s.Register(s.server)

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

// Stop marks every service NOT_SERVING and stops the server gracefully.
// Watch streams never finish on their own, so after a short grace period
// the remaining connections are closed.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		logf("graceful stop timed out after %s, closing streams", s.grace)
		s.server.Stop()
		<-done
	}
	s.wg.Wait()
	logf("gRPC health stopped")
}
