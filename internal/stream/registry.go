// ABOUTME: In-memory registry of live SSE connections keyed by user
// ABOUTME: Broadcasts serialized events to every connection a user has open

package stream

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// connBufferSize is the outbound channel buffer for each connection.
	connBufferSize = 64
)

// Conn is one live streaming connection. The HTTP handler drains Events
// and writes each payload as an SSE data line.
type Conn struct {
	ID string
	ch chan []byte
}

// NewConn creates a connection handle with a bounded outbound buffer
func NewConn() *Conn {
	return &Conn{
		ID: uuid.New().String(),
		ch: make(chan []byte, connBufferSize),
	}
}

// Events returns the outbound payload channel. It is closed on Unregister.
func (c *Conn) Events() <-chan []byte {
	return c.ch
}

// Registry tracks live connections per user and fans events out to them.
// It is an explicitly constructed instance with no package-level state, so
// tests (and a future second listener) can run isolated registries.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]*Conn // userID -> connID -> conn
	logger *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]map[string]*Conn),
		logger: logger.With("component", "stream"),
	}
}

// Register adds a connection to the user's set. No-op if already present.
func (r *Registry) Register(userID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[userID]; !ok {
		r.conns[userID] = make(map[string]*Conn)
	}
	if _, exists := r.conns[userID][conn.ID]; exists {
		return
	}
	r.conns[userID][conn.ID] = conn

	r.logger.Debug("connection registered",
		"user_id", userID,
		"conn_id", conn.ID,
		"connections", len(r.conns[userID]))
}

// Unregister removes a connection and closes its channel. The per-user entry
// is dropped once its last connection goes away. Safe to call twice.
func (r *Registry) Unregister(userID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[userID]
	if !ok {
		return
	}
	c, exists := conns[conn.ID]
	if !exists {
		return
	}

	delete(conns, conn.ID)
	close(c.ch)

	// Clean up empty user entries
	if len(conns) == 0 {
		delete(r.conns, userID)
	}

	r.logger.Debug("connection unregistered", "user_id", userID, "conn_id", conn.ID)
}

// Broadcast serializes the event once and delivers it to every connection the
// user currently has open. Delivery is non-blocking: a connection whose buffer
// is full has the event dropped and logged, and never blocks the others.
//
// Sends happen under the read lock. Unregister and Close close channels under
// the write lock, so a channel can never be closed while a send is in flight.
func (r *Registry) Broadcast(userID string, event *Event) {
	payload, err := event.Marshal()
	if err != nil {
		r.logger.Error("failed to marshal event", "error", err, "type", event.Type)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns[userID] {
		select {
		case c.ch <- payload:
			// Sent
		default:
			// Buffer full — drop for this connection only
			r.logger.Warn("dropped event for slow connection",
				"user_id", userID,
				"conn_id", c.ID,
				"type", event.Type)
		}
	}
}

// Send delivers an event to a single connection, used for the history
// snapshot on connect. Non-blocking with the same drop policy as Broadcast,
// and under the same lock so the channel cannot be closed mid-send.
func (r *Registry) Send(conn *Conn, event *Event) {
	payload, err := event.Marshal()
	if err != nil {
		r.logger.Error("failed to marshal event", "error", err, "type", event.Type)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	select {
	case conn.ch <- payload:
	default:
		r.logger.Warn("dropped event for slow connection", "conn_id", conn.ID, "type", event.Type)
	}
}

// HasConnections reports whether the user has any live connections
func (r *Registry) HasConnections(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Close shuts down the registry and closes every connection channel
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, conns := range r.conns {
		for connID, c := range conns {
			close(c.ch)
			delete(conns, connID)
		}
		delete(r.conns, userID)
	}

	r.logger.Debug("registry closed")
}
