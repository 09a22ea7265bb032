package hub

import (
	"slices"

	"github.com/samber/lo"
)

// ConnectionID identifies one live connection. It is generated when the
// connection joins and never reused.
type ConnectionID string

// Connection is a live bidirectional transport handle owned by the Registry
// while it is open.
type Connection interface {
	// Send enqueues a serialized snapshot without blocking. It reports false
	// when the push was refused, e.g. the connection is closing or its
	// outbound buffer is full.
	Send(payload []byte) bool

	// IsOpen reports whether the connection can still receive pushes.
	IsOpen() bool

	// Close stops outbound delivery and releases the transport.
	Close()
}

// Registry owns the set of active connections keyed by ConnectionID. It is
// only touched from the hub loop and carries no lock.
type Registry struct {
	conns map[ConnectionID]Connection
	order []ConnectionID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnectionID]Connection)}
}

// Register stores conn under id. Registering an id twice replaces the
// connection but keeps the original position.
func (r *Registry) Register(id ConnectionID, conn Connection) {
	if _, ok := r.conns[id]; !ok {
		r.order = append(r.order, id)
	}
	r.conns[id] = conn
}

// Unregister removes id and returns the connection it held. Unregistering an
// unknown id is a no-op.
func (r *Registry) Unregister(id ConnectionID) (Connection, bool) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	r.order = slices.DeleteFunc(r.order, func(other ConnectionID) bool { return other == id })
	return conn, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id ConnectionID) bool {
	_, ok := r.conns[id]
	return ok
}

// ForEach calls fn for every currently-open connection in registration order.
func (r *Registry) ForEach(fn func(id ConnectionID, conn Connection)) {
	for _, id := range r.order {
		conn := r.conns[id]
		if !r.IsOpen(conn) {
			continue
		}
		fn(id, conn)
	}
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []ConnectionID {
	return slices.Clone(r.order)
}

// OpenCount returns the number of registered connections that are open.
func (r *Registry) OpenCount() int {
	return lo.CountBy(r.order, func(id ConnectionID) bool { return r.IsOpen(r.conns[id]) })
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// IsOpen reports whether conn is non-nil and open.
func (r *Registry) IsOpen(conn Connection) bool {
	return conn != nil && conn.IsOpen()
}
