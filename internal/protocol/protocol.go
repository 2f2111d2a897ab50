// Package protocol defines the events exchanged between clients and the
// server. Every websocket text frame carries one JSON envelope:
//
//	{"event": "cell-value-change", "data": {"rowIndex": 2, "field": "C", "value": "42"}}
//
// Inbound and Outbound are closed sets: only the types declared in this
// package implement them, so a type switch over either is exhaustive.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventJoin            = "join"
	EventJoinSession     = "join-session" // accepted alias for EventJoin
	EventCellEditStart   = "cell-edit-start"
	EventCellEditEnd     = "cell-edit-end"
	EventCellValueChange = "cell-value-change"
)

// Outbound event names.
const (
	EventSessionJoined    = "session-joined"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUsersUpdated     = "users-updated"
	EventCellEditStarted  = "cell-edit-started"
	EventCellEditEnded    = "cell-edit-ended"
	EventCellValueUpdated = "cell-value-updated"
)

var (
	ErrUnknownEvent    = errors.New("unknown event")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// Envelope is the frame layout on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope parses a frame without interpreting its payload.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrInvalidEnvelope)
	}
	return env, nil
}
