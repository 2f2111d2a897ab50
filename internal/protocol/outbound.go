package protocol

import (
	"encoding/json"
	"fmt"

	"collabgrid/internal/document"
	"collabgrid/internal/presence"
)

// Outbound is an event sent by the server.
type Outbound interface {
	EventName() string
	outbound()
}

// SessionJoined is sent only to the connection that joined. It carries
// everything needed to render the document.
type SessionJoined struct {
	SessionID    string                          `json:"sessionId"`
	DocumentID   string                          `json:"documentId"`
	Participant  presence.Participant            `json:"participant"`
	Participants []presence.Participant          `json:"participants"`
	Grid         document.Grid                   `json:"grid"`
	CellLocks    map[string]presence.Participant `json:"cellLocks"`
}

// UserJoined announces a new participant to the room.
type UserJoined presence.Participant

// UserLeft announces a departed participant to the room.
type UserLeft presence.Participant

// UsersUpdated carries the full roster of the room after a change.
type UsersUpdated []presence.Participant

// CellEditStarted announces the holder of a cell lock.
type CellEditStarted struct {
	CellID string               `json:"cellId"`
	Holder presence.Participant `json:"holder"`
}

// CellEditEnded announces that a cell lock was released.
type CellEditEnded struct {
	CellID string `json:"cellId"`
}

// CellValueUpdated carries the authoritative value of a cell after a write.
type CellValueUpdated struct {
	RowIndex int    `json:"rowIndex"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

func (SessionJoined) EventName() string    { return EventSessionJoined }
func (UserJoined) EventName() string       { return EventUserJoined }
func (UserLeft) EventName() string         { return EventUserLeft }
func (UsersUpdated) EventName() string     { return EventUsersUpdated }
func (CellEditStarted) EventName() string  { return EventCellEditStarted }
func (CellEditEnded) EventName() string    { return EventCellEditEnded }
func (CellValueUpdated) EventName() string { return EventCellValueUpdated }

func (SessionJoined) outbound()    {}
func (UserJoined) outbound()       {}
func (UserLeft) outbound()         {}
func (UsersUpdated) outbound()     {}
func (CellEditStarted) outbound()  {}
func (CellEditEnded) outbound()    {}
func (CellValueUpdated) outbound() {}

// Encode renders a server event as a frame.
func Encode(m Outbound) ([]byte, error) {
	return encode(m.EventName(), m)
}

// DecodeOutbound parses a server frame. Clients use it; the server never
// reads its own events back except through a relay.
func DecodeOutbound(frame []byte) (Outbound, error) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	var m Outbound
	switch env.Event {
	case EventSessionJoined:
		m = &SessionJoined{}
	case EventUserJoined:
		m = &UserJoined{}
	case EventUserLeft:
		m = &UserLeft{}
	case EventUsersUpdated:
		m = &UsersUpdated{}
	case EventCellEditStarted:
		m = &CellEditStarted{}
	case EventCellEditEnded:
		m = &CellEditEnded{}
	case EventCellValueUpdated:
		m = &CellValueUpdated{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, m); err != nil {
		return nil, payloadError(env.Event, err)
	}
	return deref(m), nil
}

func deref(m Outbound) Outbound {
	switch v := m.(type) {
	case *SessionJoined:
		return *v
	case *UserJoined:
		return *v
	case *UserLeft:
		return *v
	case *UsersUpdated:
		return *v
	case *CellEditStarted:
		return *v
	case *CellEditEnded:
		return *v
	case *CellValueUpdated:
		return *v
	}
	return m
}
