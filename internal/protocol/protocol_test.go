package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabgrid/internal/document"
	"collabgrid/internal/presence"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Inbound
	}{
		{
			name:  "join object",
			frame: `{"event":"join","data":{"documentId":"doc1"}}`,
			want:  Join{DocumentID: "doc1"},
		},
		{
			name:  "join bare string",
			frame: `{"event":"join-session","data":"doc1"}`,
			want:  Join{DocumentID: "doc1"},
		},
		{
			name:  "join without data",
			frame: `{"event":"join"}`,
			want:  Join{},
		},
		{
			name:  "join with null data",
			frame: `{"event":"join","data":null}`,
			want:  Join{},
		},
		{
			name:  "edit start",
			frame: `{"event":"cell-edit-start","data":{"sessionId":"s1","documentId":"doc1","cellId":"B3"}}`,
			want:  CellEditStart{SessionID: "s1", DocumentID: "doc1", CellID: "B3"},
		},
		{
			name:  "edit end",
			frame: `{"event":"cell-edit-end","data":{"sessionId":"s1","documentId":"doc1","cellId":"B3"}}`,
			want:  CellEditEnd{SessionID: "s1", DocumentID: "doc1", CellID: "B3"},
		},
		{
			name:  "value change row zero",
			frame: `{"event":"cell-value-change","data":{"documentId":"doc1","rowIndex":0,"field":"A","value":"x"}}`,
			want:  CellValueChange{DocumentID: "doc1", RowIndex: 0, Field: "A", Value: "x"},
		},
		{
			name:  "value change empty value",
			frame: `{"event":"cell-value-change","data":{"documentId":"doc1","rowIndex":2,"field":"C","value":""}}`,
			want:  CellValueChange{DocumentID: "doc1", RowIndex: 2, Field: "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInboundRejects(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"not json", `nope`, ErrInvalidEnvelope},
		{"no event", `{"data":{}}`, ErrInvalidEnvelope},
		{"unknown event", `{"event":"explode","data":{}}`, ErrUnknownEvent},
		{"outbound event name", `{"event":"users-updated","data":[]}`, ErrUnknownEvent},
		{"edit start without cell", `{"event":"cell-edit-start","data":{"documentId":"doc1"}}`, ErrInvalidPayload},
		{"edit end without data", `{"event":"cell-edit-end"}`, ErrInvalidPayload},
		{"value change without row", `{"event":"cell-value-change","data":{"field":"A","value":"1"}}`, ErrInvalidPayload},
		{"value change negative row", `{"event":"cell-value-change","data":{"rowIndex":-1,"field":"A","value":"1"}}`, ErrInvalidPayload},
		{"value change without field", `{"event":"cell-value-change","data":{"rowIndex":1,"value":"1"}}`, ErrInvalidPayload},
		{"value change unknown column", `{"event":"cell-value-change","data":{"rowIndex":1,"field":"K","value":"1"}}`, ErrInvalidPayload},
		{"value change lowercase column", `{"event":"cell-value-change","data":{"rowIndex":1,"field":"a","value":"1"}}`, ErrInvalidPayload},
		{"value change row as string", `{"event":"cell-value-change","data":{"rowIndex":"1","field":"A"}}`, ErrInvalidPayload},
		{"join with number", `{"event":"join","data":7}`, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeInboundDecodes(t *testing.T) {
	msgs := []Inbound{
		Join{DocumentID: "doc1"},
		CellEditStart{SessionID: "s", DocumentID: "doc1", CellID: "A1"},
		CellEditEnd{SessionID: "s", DocumentID: "doc1", CellID: "A1"},
		CellValueChange{SessionID: "s", DocumentID: "doc1", RowIndex: 3, Field: "D", Value: "v"},
	}
	for _, m := range msgs {
		frame, err := EncodeInbound(m)
		require.NoError(t, err)
		got, err := DecodeInbound(frame)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestEncodeOutboundWireShape(t *testing.T) {
	p := presence.Participant{ID: "c1", Name: "Riley7", Color: "#3b82f6", SessionID: "s1", DocumentID: "doc1"}

	frame, err := Encode(CellEditStarted{CellID: "B3", Holder: p})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"cell-edit-started","data":{"cellId":"B3","holder":
		{"id":"c1","name":"Riley7","color":"#3b82f6","sessionId":"s1","documentId":"doc1"}}}`, string(frame))

	frame, err = Encode(UserJoined(p))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user-joined","data":
		{"id":"c1","name":"Riley7","color":"#3b82f6","sessionId":"s1","documentId":"doc1"}}`, string(frame))

	frame, err = Encode(UsersUpdated{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"users-updated","data":[]}`, string(frame))

	frame, err = Encode(CellValueUpdated{RowIndex: 2, Field: "C", Value: "42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"cell-value-updated","data":{"rowIndex":2,"field":"C","value":"42"}}`, string(frame))
}

func TestSessionJoinedCarriesGridAndLocks(t *testing.T) {
	p := presence.Participant{ID: "c1", SessionID: "s1", DocumentID: "doc1"}
	grid := document.NewGrid()
	grid[1]["B"] = "hello"

	frame, err := Encode(SessionJoined{
		SessionID:    "s1",
		DocumentID:   "doc1",
		Participant:  p,
		Participants: []presence.Participant{p},
		Grid:         grid,
		CellLocks:    map[string]presence.Participant{"A1": p},
	})
	require.NoError(t, err)

	var raw struct {
		Event string `json:"event"`
		Data  struct {
			Grid      []map[string]string        `json:"grid"`
			CellLocks map[string]json.RawMessage `json:"cellLocks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.Equal(t, EventSessionJoined, raw.Event)
	assert.Len(t, raw.Data.Grid, 10)
	assert.Equal(t, "hello", raw.Data.Grid[1]["B"])
	assert.Contains(t, raw.Data.CellLocks, "A1")

	got, err := DecodeOutbound(frame)
	require.NoError(t, err)
	sj, ok := got.(SessionJoined)
	require.True(t, ok)
	assert.Equal(t, "hello", sj.Grid[1]["B"])
	assert.Equal(t, p, sj.CellLocks["A1"])
}

func TestDecodeOutbound(t *testing.T) {
	p := presence.Participant{ID: "c1", Name: "Kai1"}
	msgs := []Outbound{
		UserJoined(p),
		UserLeft(p),
		UsersUpdated{p},
		CellEditStarted{CellID: "A1", Holder: p},
		CellEditEnded{CellID: "A1"},
		CellValueUpdated{RowIndex: 1, Field: "B", Value: "x"},
	}
	for _, m := range msgs {
		t.Run(m.EventName(), func(t *testing.T) {
			frame, err := Encode(m)
			require.NoError(t, err)
			got, err := DecodeOutbound(frame)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}

	_, err := DecodeOutbound([]byte(`{"event":"join","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
