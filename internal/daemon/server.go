package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/engine"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/profile"
)

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, health *api.Health) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists. The profile lock is already held.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	health.Register(srv)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Health Watch streams can outlive a graceful stop.
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

// Observer serves /metrics and /status over HTTP. It is disabled when the
// profile's metrics address is empty.
type Observer struct {
	addr     string
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

func NewObserver(p Params, cfg *config.Profile, m *metrics.Metrics, eng *engine.Engine, logger *zap.Logger) *Observer {
	o := &Observer{addr: cfg.Metrics.Addr, logger: logger}
	if o.addr == "" {
		return o
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/status", api.StatusHandler(p.Profile, cfg.User.ID, time.Now(), eng))
	o.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return o
}

// Start binds the listener and serves in the background.
func (o *Observer) Start() error {
	if o.server == nil {
		return nil
	}
	lis, err := net.Listen("tcp", o.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	o.listener = lis
	o.logger.Info("metrics server starting", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := o.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when the observer is disabled or
// not started.
func (o *Observer) Addr() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

func (o *Observer) Stop(ctx context.Context) {
	if o.server == nil {
		return
	}
	if err := o.server.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
