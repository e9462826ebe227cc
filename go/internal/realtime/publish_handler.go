package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/rs/zerolog/log"
)

const maxPublishBody = 64 << 10

// PublishHandler exposes the publisher over HTTP for request handlers that
// run outside this process.
type PublishHandler struct {
	publisher *Publisher
}

func NewPublishHandler(publisher *Publisher) *PublishHandler {
	return &PublishHandler{publisher: publisher}
}

type publishRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// HandlePublish accepts POST /api/sessions/{sessionId}/events.
func (h *PublishHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	var req publishRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	event, err := NewEvent(sessionID, req.Event, req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.publisher.Publish(r.Context(), event); err != nil {
		status := publishErrorStatus(err)
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("event", event.Name).
			Int("status", status).
			Msg("failed to publish event")
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func publishErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, bus.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, bus.ErrNotReady), errors.Is(err, bus.ErrClosed), errors.Is(err, ErrBusUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// RegisterRoutes registers the publish route with an HTTP mux
func (h *PublishHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{sessionId}/events", h.HandlePublish)
}
