package realtime

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionQueryParam carries the session key on the upgrade request.
const SessionQueryParam = "sessionId"

// WebSocketHandler handles WebSocket upgrade requests for session connections
type WebSocketHandler struct {
	registry *Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  MetricsCollector
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(registry *Registry, config ConnectionConfig, metrics MetricsCollector) *WebSocketHandler {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		config:  config,
		metrics: metrics,
	}
}

// checkOrigin allows any origin when allowed is empty. Otherwise scheme and
// host must both match an entry, as rs/cors matches the same list. Requests
// without an Origin header come from non-browser clients and are accepted.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		if key, ok := originKey(origin); ok {
			origins[key] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		key, ok := originKey(origin)
		if !ok {
			return false
		}
		_, ok = origins[key]
		return ok
	}
}

// originKey normalizes an origin to lower-case scheme://host.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// HandleSessionConnection upgrades a request carrying ?sessionId= and
// registers the socket for that session.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(SessionQueryParam)
	if sessionID == "" {
		h.metrics.RecordConnectionRejected("missing_session")
		log.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("rejected WebSocket connection without sessionId")
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.metrics.RecordConnectionRejected("upgrade_failed")
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := newConnection(sessionID, conn, h.registry, h.config)
	if !h.registry.Register(connection) {
		h.metrics.RecordConnectionRejected("shutting_down")
		log.Warn().Str("session_id", sessionID).Msg("rejected WebSocket connection during shutdown")
		return
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", sessionID).
		Msg("WebSocket connection established")
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"total_connections": stats.TotalConnections,
		"active_sessions":   stats.ActiveSessions,
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleSessionConnection)
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write JSON response")
	}
}
