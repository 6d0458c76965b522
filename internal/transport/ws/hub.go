package ws

import (
	"sync"
)

const sendBuffer = 256

// Connection is one client socket held by this process.
type Connection struct {
	ID       string
	PlayerID string
	Send     chan []byte
}

// Hub is the registry of connections held by this process. It is the local
// delivery end of the relay.
type Hub struct {
	conns  map[string]*Connection
	mu     sync.RWMutex
	closed bool
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection. It reports false once the hub is closed.
func (h *Hub) Register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn.ID] = conn
	return true
}

// Unregister removes a connection and closes its send channel. It reports
// whether the connection was still registered.
func (h *Hub) Unregister(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.conns[conn.ID]
	if !ok || existing != conn {
		return false
	}
	delete(h.conns, conn.ID)
	close(conn.Send)
	return true
}

// Deliver queues frame on connID without blocking. A full buffer drops the
// frame.
func (h *Hub) Deliver(connID string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	select {
	case conn.Send <- frame:
		return true
	default:
		return false
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every connection; their write pumps send a close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, conn := range h.conns {
		delete(h.conns, id)
		close(conn.Send)
	}
}
