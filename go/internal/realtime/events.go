package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned for events missing a session or a name, and
// for bus messages that cannot be decoded.
var ErrInvalidEvent = errors.New("invalid event")

// Event names emitted by session handlers. The bridge forwards any name;
// these are the ones currently in use.
const (
	EventTimerStart = "TIMER_START"
	EventTimerEnd   = "TIMER_END"
)

// Event is a single session-scoped notification.
type Event struct {
	SessionID string
	Name      string
	Payload   json.RawMessage
}

// BusMessage is the envelope placed on the broker channel.
type BusMessage struct {
	SessionID string          `json:"sessionId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}

// Frame is what a WebSocket client receives. The session is implied by
// the connection and is not repeated.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent builds an Event, encoding payload as JSON. A json.RawMessage
// payload is used as-is; nil becomes JSON null.
func NewEvent(sessionID, name string, payload any) (Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, err
	}
	e := Event{SessionID: sessionID, Name: name, Payload: raw}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
		}
		return p, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
		}
		return raw, nil
	}
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidEvent)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: event name is required", ErrInvalidEvent)
	}
	return nil
}

// EncodeBusMessage serializes e into the broker envelope.
func EncodeBusMessage(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(BusMessage{
		SessionID: e.SessionID,
		Event:     e.Name,
		Payload:   e.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bus message: %w", err)
	}
	return data, nil
}

// DecodeBusMessage parses a broker envelope. Anything that is not a JSON
// object carrying sessionId and event is reported as ErrInvalidEvent.
func DecodeBusMessage(data []byte) (Event, error) {
	var msg BusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	e := Event{SessionID: msg.SessionID, Name: msg.Event, Payload: msg.Payload}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// EncodeFrame serializes the outbound WebSocket frame for e.
func EncodeFrame(e Event) ([]byte, error) {
	data, err := json.Marshal(Frame{Event: e.Name, Payload: e.Payload})
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}
