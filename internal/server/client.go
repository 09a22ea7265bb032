// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/coedit/internal/hub"
	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/metrics"
)

// Client is one WebSocket participant. It implements hub.Connection: the hub
// pushes snapshots through Send and ends delivery with Close.
type Client struct {
	id          hub.ConnectionID
	conn        *websocket.Conn
	send        chan []byte
	hub         *hub.Hub
	addr        string
	cfg         *Config
	rateLimiter *rateLimiter
	logger      logging.Logger
	metrics     *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client for conn. The client's send channel is
// buffered to handle message queuing.
func NewClient(
	conn *websocket.Conn,
	h *hub.Hub,
	addr string,
	cfg *Config,
	logger logging.Logger,
	m *metrics.Metrics,
) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		hub:         h,
		addr:        addr,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		logger:      logger,
		metrics:     m,
	}
}

// Send enqueues payload without blocking. It returns false once the client is
// closed or when its buffer is full.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the client still accepts pushes.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close ends outbound delivery. The write pump then sends a close frame and
// releases the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Warnf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Warnf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError logs why the read loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warnf("Message from %s exceeded maximum size of %d bytes", c.addr, c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Infof("Client %s (%s) disconnected: %v", c.id, c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Infof("Client %s (%s) connection closed: %v", c.id, c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warnf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		c.logger.Warnf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.metrics.AddRateLimitedMessage()
		c.logger.Warnf("Rate limit exceeded for %s (%d messages per %s); discarding message",
			c.addr, c.cfg.RateLimit.Burst, c.cfg.RateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes a raw frame and forwards it to the hub. A frame that
// cannot be decoded is logged and dropped; the connection stays open.
func (c *Client) processMessage(rawMessage []byte) bool {
	msg, err := hub.Decode(rawMessage)
	if err != nil {
		c.metrics.AddMalformedMessage()
		c.logger.Warnf("Invalid message from %s (%s): %v", c.id, c.addr, err)
		return false
	}

	c.logger.Debugf("Received %s message from %s", msg.Type(), c.id)
	if err := c.hub.Receive(c.id, msg); err != nil {
		c.logger.Warnf("Dropping message from %s: %v", c.id, err)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		if err := c.hub.Leave(c.id); err != nil && !errors.Is(err, hub.ErrHubClosed) {
			c.logger.Warnf("Error leaving hub for %s: %v", c.id, err)
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warnf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warnf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warnf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warnf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes message and any already queued snapshots, one
// frame each.
func (c *Client) writeTextMessage(message []byte) bool {
	if !c.writeFrame(message) {
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeFrame(queued) {
			return false
		}
	}
	return true
}

func (c *Client) writeFrame(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Warnf("Error creating writer for %s: %v", c.addr, err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Warnf("Error writing message to %s: %v", c.addr, err)
		return false
	}

	if err := w.Close(); err != nil {
		c.logger.Warnf("Error closing writer for %s: %v", c.addr, err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warnf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warnf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
