// Package api exposes the daemon's state to roomsyncctl: connection health
// over the standard gRPC health service and a JSON status snapshot.
package api

import (
	"sync"

	"github.com/matheus3301/roomsync/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ConnectionService is the health service name that tracks the realtime
// connection. The empty name reports daemon liveness.
const ConnectionService = "roomsync.Connection"

// Health mirrors connection state changes into a gRPC health server.
type Health struct {
	server  *health.Server
	machine *status.Machine
	logger  *zap.Logger

	mu   sync.Mutex
	stop func()
	done chan struct{}
}

func NewHealth(machine *status.Machine, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Health{
		server:  health.NewServer(),
		machine: machine,
		logger:  logger,
	}
}

// Register adds the health service to srv.
func (h *Health) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Start reports the current state and follows every transition.
func (h *Health) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	states, stop := h.machine.Watch(16)
	h.stop = stop
	h.done = make(chan struct{})
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.set(h.machine.Current())

	go func(done chan struct{}) {
		defer close(done)
		for s := range states {
			h.set(s)
		}
	}(h.done)
}

// Stop marks every service NOT_SERVING and ends watch streams.
func (h *Health) Stop() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop = nil
	h.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	h.server.Shutdown()
}

// Server returns the underlying health server.
func (h *Health) Server() *health.Server { return h.server }

func (h *Health) set(s status.State) {
	st := ServingStatus(s)
	h.server.SetServingStatus(ConnectionService, st)
	h.logger.Debug("health updated", zap.String("state", string(s)), zap.String("serving", st.String()))
}

// ServingStatus maps a connection state onto the health protocol.
func ServingStatus(s status.State) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case status.Connected:
		return healthpb.HealthCheckResponse_SERVING
	case status.Idle:
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
