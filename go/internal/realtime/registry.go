package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry maps each session to the connections currently watching it.
// It is the only owner of that map.
//
// Broadcast enqueues under the read lock and Unregister closes a queue
// under the write lock, so a frame is never sent on a closed queue.
type Registry struct {
	sessions map[string]map[*Connection]struct{}
	closed   bool
	mu       sync.RWMutex

	metrics MetricsCollector
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections,omitempty"`
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics MetricsCollector) *Registry {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &Registry{
		sessions: make(map[string]map[*Connection]struct{}),
		metrics:  metrics,
	}
}

// Register adds conn to the set for its session. After CloseAll it closes
// conn instead and returns false.
func (r *Registry) Register(conn *Connection) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(conn.send)
		conn.closeSocket()
		return false
	}
	connections, exists := r.sessions[conn.SessionID]
	if !exists {
		connections = make(map[*Connection]struct{})
		r.sessions[conn.SessionID] = connections
	}
	connections[conn] = struct{}{}
	sessionCount := len(r.sessions)
	watchers := len(connections)
	r.mu.Unlock()

	r.metrics.RecordConnectionOpened()
	r.metrics.RecordActiveSessions(sessionCount)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Int("session_connections", watchers).
		Msg("connection registered")
	return true
}

// Unregister removes conn and closes its outbound queue. The session entry
// is dropped with its last connection. It reports whether conn was
// registered; repeated calls are no-ops.
func (r *Registry) Unregister(conn *Connection) bool {
	r.mu.Lock()
	connections, exists := r.sessions[conn.SessionID]
	if !exists {
		r.mu.Unlock()
		return false
	}
	if _, ok := connections[conn]; !ok {
		r.mu.Unlock()
		return false
	}

	delete(connections, conn)
	close(conn.send)
	if len(connections) == 0 {
		delete(r.sessions, conn.SessionID)
	}
	sessionCount := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordConnectionClosed(time.Since(conn.ConnectedAt))
	r.metrics.RecordActiveSessions(sessionCount)

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Msg("connection unregistered")
	return true
}

// Broadcast queues frame on every connection of sessionID and returns how
// many accepted it. An unknown session is not an error. Connections whose
// queue is full are evicted.
func (r *Registry) Broadcast(sessionID string, frame []byte) int {
	var (
		delivered int
		slow      []*Connection
	)

	r.mu.RLock()
	for conn := range r.sessions[sessionID] {
		select {
		case conn.send <- frame:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("session_id", sessionID).
			Msg("connection send buffer full, closing connection")
		if r.Unregister(conn) {
			r.metrics.RecordSlowClientEvicted()
		}
		conn.closeSocket()
	}

	if delivered > 0 {
		r.metrics.RecordBroadcast(delivered)
	}
	return delivered
}

// SessionCount returns the number of sessions with at least one connection.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectionCount returns the number of connections watching sessionID.
func (r *Registry) ConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Stats returns statistics about active connections
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		ActiveSessions:     len(r.sessions),
		SessionConnections: make(map[string]int, len(r.sessions)),
	}
	for sessionID, connections := range r.sessions {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID] = len(connections)
	}
	return stats
}

// CloseAll unregisters every connection and closes its socket. Used on
// shutdown; later registrations are refused.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	r.closed = true
	var all []*Connection
	for sessionID, connections := range r.sessions {
		for conn := range connections {
			close(conn.send)
			all = append(all, conn)
		}
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	for _, conn := range all {
		r.metrics.RecordConnectionClosed(time.Since(conn.ConnectedAt))
		conn.closeSocket()
	}
	r.metrics.RecordActiveSessions(0)

	if len(all) > 0 {
		log.Info().Int("connections", len(all)).Msg("closed all connections")
	}
	return len(all)
}
