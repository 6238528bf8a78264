package gateway

import (
	"sync"

	"classboard/pkg/interfaces"
)

// Registry tracks live connections by connection ID. Pure lookup structure;
// membership and routing live elsewhere.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection. Connection IDs are server-generated UUIDs, so
// collisions do not occur; an existing entry under the same ID indicates a
// programming error and is replaced after closing the stale socket.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[conn.ConnectionID()]; ok && existing != conn {
		go func() { _ = existing.Close() }()
	}
	r.conns[conn.ConnectionID()] = conn

	return nil
}

// Unregister removes a connection. Idempotent: only removes the exact
// instance that is registered, so a stale cleanup cannot evict a newer
// connection under the same ID.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.conns[conn.ConnectionID()]; ok && registered == conn {
		delete(r.conns, conn.ConnectionID())
	}
}

// Get returns the connection for an ID with O(1) lookup. The
// interfaces.Connection return type keeps consumers off the concrete socket.
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return nil, false
	}
	return conn, true
}

// Count returns the number of live connections, for health reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
