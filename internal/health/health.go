// Package health exposes the stream connection state over the standard
// gRPC health checking protocol.
package health

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/benkuper/Pleiades/internal/stream"
)

// StreamService is the service name whose status follows the stream
// connection. The empty service reports process liveness and is always
// SERVING while the server runs.
const StreamService = "pleiades.stream"

// Server reports SERVING for StreamService only while the stream is
// Connected. It implements stream.Observer.
type Server struct {
	stream.NopObserver

	health *health.Server

	mu       sync.Mutex
	grpc     *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a Server with StreamService NOT_SERVING.
func NewServer() *Server {
	h := health.NewServer()
	h.SetServingStatus(StreamService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{health: h}
}

// StateChanged maps the stream state onto the serving status.
func (s *Server) StateChanged(st stream.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == stream.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(StreamService, status)
}

// Health returns the underlying health service, for direct checks.
func (s *Server) Health() healthpb.HealthServer { return s.health }

// Start listens on addr and serves the health service in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[health] gRPC health listening on %s", lis.Addr())
		if err := s.grpc.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.wg.Wait()
	log.Printf("[health] gRPC health stopped")
}
