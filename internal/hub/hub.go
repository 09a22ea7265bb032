// Package hub implements the broadcast hub that owns the shared document, the
// participant directory and the connection registry, and fans a snapshot of
// that state out to every open connection after each accepted event.
//
// All state is mutated from a single goroutine (Run), one event at a time, so
// the state stores themselves carry no locks.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/metrics"
)

// ErrHubClosed is returned when an event is submitted after Shutdown.
var ErrHubClosed = errors.New("hub is closed")

const defaultQueueSize = 1024

type eventKind int

const (
	eventJoin eventKind = iota
	eventMessage
	eventLeave
)

func (k eventKind) String() string {
	switch k {
	case eventJoin:
		return "join"
	case eventMessage:
		return "message"
	case eventLeave:
		return "leave"
	default:
		return "unknown"
	}
}

type event struct {
	kind eventKind
	id   ConnectionID
	conn Connection
	msg  Message
}

// Hub composes the Registry, Directory and Document and serializes every
// mutation through its event loop.
type Hub struct {
	registry  *Registry
	directory *Directory
	document  *Document

	events  chan event
	newID   func() ConnectionID
	logger  logging.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for connect/disconnect diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics sets the collectors the hub reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithIDGenerator replaces the UUID generator for connection ids.
func WithIDGenerator(fn func() ConnectionID) Option {
	return func(h *Hub) { h.newID = fn }
}

// WithQueueSize sets the capacity of the event queue.
func WithQueueSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.events = make(chan event, size)
		}
	}
}

// New creates a Hub. Run must be started before events are processed.
func New(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:  NewRegistry(),
		directory: NewDirectory(),
		document:  NewDocument(),
		events:    make(chan event, defaultQueueSize),
		newID:     func() ConnectionID { return ConnectionID(uuid.NewString()) },
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.New("hub")
	}
	if h.metrics == nil {
		h.metrics = metrics.NewMetrics()
	}
	return h
}

// Join assigns a fresh id to conn and queues its registration.
func (h *Hub) Join(conn Connection) (ConnectionID, error) {
	id := h.newID()
	if err := h.enqueue(event{kind: eventJoin, id: id, conn: conn}); err != nil {
		return "", err
	}
	return id, nil
}

// Receive queues a decoded message sent by id.
func (h *Hub) Receive(id ConnectionID, msg Message) error {
	return h.enqueue(event{kind: eventMessage, id: id, msg: msg})
}

// Leave queues the disconnect of id.
func (h *Hub) Leave(id ConnectionID) error {
	return h.enqueue(event{kind: eventLeave, id: id})
}

func (h *Hub) enqueue(ev event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Run processes events until Shutdown is called. It should be called in its
// own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownConnections()
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Shutdown stops the event loop and closes every registered connection. It
// returns context.DeadlineExceeded if the loop does not stop within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	// Taking the write lock waits for in-flight enqueues, so nothing can be
	// queued after the loop drains.
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()

	select {
	case <-h.done:
		h.logger.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventJoin:
		h.handleJoin(ev.id, ev.conn)
	case eventMessage:
		h.handleMessage(ev.id, ev.msg)
	case eventLeave:
		h.handleLeave(ev.id)
	}

	h.metrics.SetConnections(h.registry.OpenCount())
	h.metrics.SetParticipants(h.directory.Len())
	h.metrics.SetActivityLogEntries(len(h.directory.activity))
}

func (h *Hub) handleJoin(id ConnectionID, conn Connection) {
	if conn == nil {
		h.logger.Warnf("Received nil connection for %s; skipping", id)
		return
	}

	h.registry.Register(id, conn)
	h.metrics.AddEvent(eventJoin.String())
	h.logger.Infof("%s connected. Total connections: %d", id, h.registry.Len())
}

func (h *Hub) handleMessage(id ConnectionID, msg Message) {
	if !h.registry.Has(id) {
		h.logger.Debugf("Dropping message from unregistered connection %s", id)
		return
	}

	switch m := msg.(type) {
	case UserEvent:
		h.metrics.AddEvent(string(TypeUserEvent))
		h.handleUserEvent(id, m)
	case ContentChange:
		h.metrics.AddEvent(string(TypeContentChange))
		h.handleContentChange(m)
	default:
		h.metrics.AddEvent("unknown")
	}
}

// handleUserEvent stores the sender's latest payload and records a join entry.
// The entry is appended on every user event, re-identification included.
func (h *Hub) handleUserEvent(id ConnectionID, m UserEvent) {
	h.directory.Upsert(id, Participant{DisplayName: m.Username, Payload: m.Payload})
	h.directory.AppendActivity(fmt.Sprintf("%s joined to edit the document", m.Username))
	h.broadcast(h.userEventSnapshot())
}

func (h *Hub) handleContentChange(m ContentChange) {
	h.document.Replace(m.Content)
	h.broadcast(Snapshot{
		Type: TypeContentChange,
		Data: ContentChangeData{
			EditorContent: h.document.Content(),
			UserActivity:  h.directory.Activity(),
		},
	})
}

func (h *Hub) handleLeave(id ConnectionID) {
	conn, ok := h.registry.Unregister(id)
	if !ok {
		return
	}
	h.metrics.AddEvent(eventLeave.String())

	name := string(id)
	if p, ok := h.directory.Remove(id); ok && p.DisplayName != "" {
		name = p.DisplayName
	}
	h.directory.AppendActivity(fmt.Sprintf("%s left the document", name))
	conn.Close()

	h.logger.Infof("%s disconnected. Total connections: %d", id, h.registry.Len())
	h.broadcast(h.userEventSnapshot())
}

func (h *Hub) userEventSnapshot() Snapshot {
	return Snapshot{
		Type: TypeUserEvent,
		Data: UserEventData{
			Users:        h.directory.All(),
			UserActivity: h.directory.Activity(),
		},
	}
}

// broadcast serializes the snapshot once and pushes it to every open
// connection. A refused push skips that recipient only.
func (h *Hub) broadcast(s Snapshot) {
	payload, err := s.Encode()
	if err != nil {
		h.logger.Errorf("Error encoding %s snapshot: %v", s.Type, err)
		return
	}

	delivered, skipped := 0, 0
	h.registry.ForEach(func(id ConnectionID, conn Connection) {
		if conn.Send(payload) {
			delivered++
			return
		}
		skipped++
		h.metrics.AddSkippedDelivery()
		h.logger.Debugf("Skipped %s snapshot for %s", s.Type, id)
	})

	h.metrics.AddBroadcast(string(s.Type))
	h.logger.Debugf("Broadcast %s snapshot to %d connections (%d skipped)", s.Type, delivered, skipped)
}

func (h *Hub) shutdownConnections() {
	h.logger.Info("Shutting down all connections...")

	// Joins still queued never reached the registry; close them too.
	for drained := false; !drained; {
		select {
		case ev := <-h.events:
			if ev.kind == eventJoin && ev.conn != nil {
				ev.conn.Close()
			}
		default:
			drained = true
		}
	}

	ids := h.registry.IDs()
	for _, id := range ids {
		if conn, ok := h.registry.Unregister(id); ok {
			conn.Close()
		}
	}
	h.metrics.SetConnections(0)
	h.logger.Infof("Closed %d connections", len(ids))
}
