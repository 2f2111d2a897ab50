package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is an event sent by a client.
type Inbound interface {
	EventName() string
	inbound()
}

// Join attaches the sending connection to a document. An empty DocumentID
// asks the server to start a fresh document.
type Join struct {
	DocumentID string `json:"documentId"`
}

// UnmarshalJSON accepts both {"documentId": "..."} and a bare JSON string.
func (j *Join) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &j.DocumentID)
	}
	type plain Join
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*j = Join(p)
	return nil
}

// CellEditStart announces that the sender began editing a cell.
type CellEditStart struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	CellID     string `json:"cellId" validate:"required,max=32"`
}

// CellEditEnd announces that the sender stopped editing a cell.
type CellEditEnd struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	CellID     string `json:"cellId" validate:"required,max=32"`
}

// CellValueChange writes a new value into one cell.
type CellValueChange struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	RowIndex   int    `json:"rowIndex"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// cellValueChangeWire distinguishes a missing rowIndex from row 0.
type cellValueChangeWire struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	RowIndex   *int   `json:"rowIndex" validate:"required,gte=0"`
	Field      string `json:"field" validate:"required,oneof=A B C D E F G H I J"`
	Value      string `json:"value"`
}

func (Join) EventName() string            { return EventJoin }
func (CellEditStart) EventName() string   { return EventCellEditStart }
func (CellEditEnd) EventName() string     { return EventCellEditEnd }
func (CellValueChange) EventName() string { return EventCellValueChange }

func (Join) inbound()            {}
func (CellEditStart) inbound()   {}
func (CellEditEnd) inbound()     {}
func (CellValueChange) inbound() {}

// DecodeInbound parses and validates a client frame.
func DecodeInbound(frame []byte) (Inbound, error) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventJoin, EventJoinSession:
		var j Join
		if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			if err := json.Unmarshal(env.Data, &j); err != nil {
				return nil, payloadError(env.Event, err)
			}
		}
		return j, nil

	case EventCellEditStart:
		var m CellEditStart
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return m, nil

	case EventCellEditEnd:
		var m CellEditEnd
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return m, nil

	case EventCellValueChange:
		var w cellValueChangeWire
		if err := decodePayload(env, &w); err != nil {
			return nil, err
		}
		return CellValueChange{
			SessionID:  w.SessionID,
			DocumentID: w.DocumentID,
			RowIndex:   *w.RowIndex,
			Field:      w.Field,
			Value:      w.Value,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodePayload(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: missing data", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return payloadError(env.Event, err)
	}
	if err := validate.Struct(v); err != nil {
		return payloadError(env.Event, err)
	}
	return nil
}

func payloadError(event string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
}

// EncodeInbound renders a client event as a frame.
func EncodeInbound(m Inbound) ([]byte, error) {
	return encode(m.EventName(), m)
}
