package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/coedit/internal/hub"
	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/metrics"
)

// Lifecycle accepts WebSocket connections, joins them to the hub and runs
// their pumps until they disconnect.
type Lifecycle struct {
	hub      *hub.Hub
	cfg      *Config
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup
}

// NewLifecycle creates a Lifecycle serving h.
func NewLifecycle(h *hub.Hub, cfg *Config, logger logging.Logger, m *metrics.Metrics) *Lifecycle {
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Lifecycle{
		hub: h,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger:  logger,
		metrics: m,
	}
}

// ServeHTTP handles WebSocket upgrade requests. It validates that the request
// uses the GET method, upgrades the connection, joins the new client to the
// hub and starts the client's read/write pumps.
func (l *Lifecycle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, l.hub, r.RemoteAddr, l.cfg, l.logger, l.metrics)
	id, err := l.hub.Join(client)
	if err != nil {
		l.logger.Warnf("Rejecting connection from %s: %v", r.RemoteAddr, err)
		l.reject(conn)
		return
	}
	client.id = id

	// Add must not race with the Wait in Shutdown.
	l.mu.Lock()
	if l.shuttingDown {
		l.mu.Unlock()
		l.logger.Warnf("Rejecting connection from %s: shutdown in progress", r.RemoteAddr)
		_ = l.hub.Leave(id)
		l.reject(conn)
		return
	}
	l.wg.Add(2)
	l.mu.Unlock()

	l.logger.Infof("Received a new connection from %s as %s", r.RemoteAddr, id)
	go func() {
		defer l.wg.Done()
		client.writePump()
	}()
	go func() {
		defer l.wg.Done()
		client.readPump()
	}()
}

func (l *Lifecycle) reject(conn *websocket.Conn) {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(l.cfg.WriteWait))
	_ = conn.Close()
}

// Shutdown stops the hub, which closes every client, and waits for all pumps
// to finish or for timeout to elapse. Connections accepted afterwards are
// rejected.
func (l *Lifecycle) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	l.mu.Lock()
	l.shuttingDown = true
	l.mu.Unlock()

	if err := l.hub.Shutdown(timeout); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("All client pumps stopped")
		return nil
	case <-time.After(time.Until(deadline)):
		l.logger.Warn("Shutdown timeout reached, some client pumps may still be running")
		return context.DeadlineExceeded
	}
}
