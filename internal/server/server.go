// Package server constructs and starts the coedit listeners with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Tyrowin/coedit/internal/hub"
	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/metrics"
)

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A server
// stopped by ShutdownServer returns nil.
func StartServer(server *http.Server, logger logging.Logger) error {
	logger.Infof("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger logging.Logger) error {
	logger.Infof("Shutting down server on %s...", server.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warnf("Server shutdown error on %s: %v", server.Addr, err)
		return err
	}

	logger.Infof("Server shutdown on %s completed", server.Addr)
	return nil
}

// Server runs the hub, the WebSocket listener and the HTTP listener as one unit.
type Server struct {
	cfg       *Config
	hub       *hub.Hub
	lifecycle *Lifecycle
	wsServer  *http.Server
	http      *http.Server
	logger    logging.Logger
	errCh     chan error
}

// New builds a Server from cfg. Nothing listens until Start is called.
func New(cfg *Config) *Server {
	m := metrics.NewMetrics()
	h := hub.New(hub.WithLogger(logging.New("hub")), hub.WithMetrics(m))
	lifecycle := NewLifecycle(h, cfg, logging.New("websocket"), m)

	return &Server{
		cfg:       cfg,
		hub:       h,
		lifecycle: lifecycle,
		wsServer:  CreateServer(cfg.WSAddr, SetupWebSocketRoutes(lifecycle)),
		http:      CreateServer(cfg.HTTPAddr, SetupHTTPRoutes(cfg, m)),
		logger:    logging.New("server"),
		errCh:     make(chan error, 2),
	}
}

// Start runs the hub loop and both listeners in the background. Listener
// failures are reported on Errors.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("Hub started and ready to manage WebSocket connections")

	for _, srv := range []*http.Server{s.wsServer, s.http} {
		go func(srv *http.Server) {
			if err := StartServer(srv, s.logger); err != nil {
				s.errCh <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
		}(srv)
	}
}

// Errors reports listener failures after Start.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting connections, closes every participant and stops
// the HTTP listener.
func (s *Server) Shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	return errors.Join(
		ShutdownServer(s.wsServer, timeout, s.logger),
		s.lifecycle.Shutdown(timeout),
		ShutdownServer(s.http, timeout, s.logger),
	)
}
