// Package session coordinates participants, documents and cell locks and
// decides what each room gets told.
//
// Every operation that touches a document runs inside that document's
// Apply, and submits its notifications to the dispatcher before returning.
// Because the dispatcher preserves submission order, all members of a room
// observe a document's changes in the order they were applied.
//
// Invalid requests are dropped: they are logged and counted, and nothing is
// sent back to the client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"collabgrid/internal/document"
	"collabgrid/internal/identity"
	"collabgrid/internal/metrics"
	"collabgrid/internal/presence"
	"collabgrid/internal/protocol"
	"collabgrid/internal/room"
)

var (
	ErrUnknownConnection = errors.New("connection has not joined a document")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentMismatch  = errors.New("document does not match the connection's session")
	ErrNotServedHere     = errors.New("document is not served by this instance")
)

// Claimer decides whether this instance may serve a document.
// cluster.Ownership implements it.
type Claimer interface {
	Claim(ctx context.Context, documentID string) error
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	Documents  *document.Store
	Presence   *presence.Registry
	Rooms      room.Dispatcher
	Identities *identity.Generator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// Ownership is consulted before a document is joined. Nil means this
	// instance serves every document.
	Ownership Claimer

	// NewID generates session ids and fresh document ids. Defaults to
	// random UUIDs.
	NewID func() string
}

// Coordinator applies client events to the shared state.
type Coordinator struct {
	docs     *document.Store
	presence *presence.Registry
	rooms    room.Dispatcher
	ids      *identity.Generator
	log      *slog.Logger
	metrics  *metrics.Metrics
	owner    Claimer
	newID    func() string
}

// New returns a Coordinator wired to cfg's collaborators.
func New(cfg Config) *Coordinator {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Coordinator{
		docs:     cfg.Documents,
		presence: cfg.Presence,
		rooms:    cfg.Rooms,
		ids:      cfg.Identities,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		owner:    cfg.Ownership,
		newID:    newID,
	}
}

// Handle applies one inbound event from m. A non-nil error means the event
// was dropped; it has already been logged and counted.
func (c *Coordinator) Handle(m room.Member, in protocol.Inbound) error {
	c.metrics.InboundEvents.WithLabelValues(in.EventName()).Inc()

	var err error
	switch msg := in.(type) {
	case protocol.Join:
		_, err = c.Join(m, msg.DocumentID)
	case protocol.CellEditStart:
		err = c.StartEdit(m.ID(), msg)
	case protocol.CellEditEnd:
		err = c.EndEdit(m.ID(), msg)
	case protocol.CellValueChange:
		err = c.ChangeValue(m.ID(), msg)
	default:
		err = fmt.Errorf("unhandled event %q", in.EventName())
	}
	if err != nil {
		c.metrics.DroppedEvents.WithLabelValues(dropReason(err)).Inc()
		c.log.Warn("dropping event", "conn", m.ID(), "event", in.EventName(), "error", err)
	}
	return err
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownConnection):
		return metrics.ReasonUnknownConnection
	case errors.Is(err, ErrDocumentNotFound):
		return metrics.ReasonUnknownDocument
	case errors.Is(err, ErrDocumentMismatch):
		return metrics.ReasonDocumentMismatch
	case errors.Is(err, ErrNotServedHere):
		return metrics.ReasonUnavailable
	case errors.Is(err, document.ErrRowOutOfRange), errors.Is(err, document.ErrUnknownColumn):
		return metrics.ReasonOutOfRange
	}
	return metrics.ReasonDecode
}

// Join attaches m to the document documentID, creating the document if it
// does not exist yet. An empty documentID starts a fresh document. If m is
// already attached somewhere, that attachment is disconnected first.
//
// When the document belongs to another instance, or ownership cannot be
// determined, m is closed so the client reconnects, and nothing changes here.
func (c *Coordinator) Join(m room.Member, documentID string) (presence.Participant, error) {
	if documentID == "" {
		documentID = c.newID()
		c.log.Info("generated new document id", "conn", m.ID(), "doc", documentID)
	}
	if c.owner != nil {
		if err := c.owner.Claim(context.Background(), documentID); err != nil {
			m.Close()
			return presence.Participant{}, fmt.Errorf("join %q: %w: %w", documentID, ErrNotServedHere, err)
		}
	}

	if _, ok := c.presence.Lookup(m.ID()); ok {
		c.log.Info("connection joining again, detaching previous session", "conn", m.ID())
		c.Disconnect(m.ID())
	}

	doc, created := c.docs.GetOrCreate(documentID)
	if created {
		c.metrics.Documents.Inc()
		c.log.Info("created document", "doc", documentID)
	}

	who := c.ids.Next()
	p := presence.Participant{
		ID:         m.ID(),
		Name:       who.Name,
		Color:      who.Color,
		SessionID:  c.newID(),
		DocumentID: documentID,
	}
	key := room.Key(documentID)

	doc.Apply(func(s *document.State) {
		s.Sessions[p.SessionID] = struct{}{}
		c.presence.Register(p)
		c.rooms.Join(key, m)
		roster := c.presence.Participants(documentID)

		c.send(m, protocol.SessionJoined{
			SessionID:    p.SessionID,
			DocumentID:   documentID,
			Participant:  p,
			Participants: roster,
			Grid:         s.Grid.Snapshot(),
			CellLocks:    s.Locks.Snapshot(),
		})
		c.broadcast(key, protocol.UserJoined(p))
		c.broadcast(key, protocol.UsersUpdated(roster))
	})

	c.metrics.Participants.Inc()
	c.log.Info("participant joined", "conn", p.ID, "doc", documentID, "session", p.SessionID, "name", p.Name)
	return p, nil
}

// StartEdit marks a cell as being edited by the connection's participant.
// A previous holder of the same cell is silently replaced.
func (c *Coordinator) StartEdit(connID string, msg protocol.CellEditStart) error {
	p, ok := c.presence.Lookup(connID)
	if !ok {
		return fmt.Errorf("start edit of %s: %w", msg.CellID, ErrUnknownConnection)
	}
	if msg.DocumentID != "" && msg.DocumentID != p.DocumentID {
		return fmt.Errorf("start edit of %s in %q: %w", msg.CellID, msg.DocumentID, ErrDocumentMismatch)
	}
	doc, ok := c.docs.Get(p.DocumentID)
	if !ok {
		return fmt.Errorf("start edit of %s: %w: %q", msg.CellID, ErrDocumentNotFound, p.DocumentID)
	}

	doc.Apply(func(s *document.State) {
		if prev, had := s.Locks.Start(msg.CellID, p); had && prev.ID != p.ID {
			c.log.Debug("cell lock taken over", "doc", doc.ID, "cell", msg.CellID, "from", prev.ID, "to", p.ID)
		}
		c.broadcast(room.Key(doc.ID), protocol.CellEditStarted{CellID: msg.CellID, Holder: p})
	})
	return nil
}

// EndEdit clears the lock on a cell. Clearing a cell that is not locked is
// not an error; the release is announced either way.
func (c *Coordinator) EndEdit(connID string, msg protocol.CellEditEnd) error {
	doc, err := c.resolve(connID, msg.DocumentID)
	if err != nil {
		return fmt.Errorf("end edit of %s: %w", msg.CellID, err)
	}

	doc.Apply(func(s *document.State) {
		if holder, ok := s.Locks.Holder(msg.CellID); ok && holder.ID != connID {
			c.log.Info("cell lock released by another participant", "doc", doc.ID, "cell", msg.CellID, "holder", holder.ID, "conn", connID)
		}
		s.Locks.End(msg.CellID)
		c.broadcast(room.Key(doc.ID), protocol.CellEditEnded{CellID: msg.CellID})
	})
	return nil
}

// ChangeValue overwrites one cell and announces the new value to the whole
// room, sender included. Writes outside the grid change nothing and are not
// announced.
func (c *Coordinator) ChangeValue(connID string, msg protocol.CellValueChange) error {
	doc, err := c.resolve(connID, msg.DocumentID)
	if err != nil {
		return fmt.Errorf("change %s%d: %w", msg.Field, msg.RowIndex, err)
	}

	doc.Apply(func(s *document.State) {
		if err = s.Grid.Set(msg.RowIndex, msg.Field, msg.Value); err != nil {
			return
		}
		c.broadcast(room.Key(doc.ID), protocol.CellValueUpdated{
			RowIndex: msg.RowIndex,
			Field:    msg.Field,
			Value:    msg.Value,
		})
	})
	if err != nil {
		return fmt.Errorf("change value in %q: %w", doc.ID, err)
	}
	return nil
}

// resolve finds the document an edit targets. An empty documentID means
// the connection's own document.
func (c *Coordinator) resolve(connID, documentID string) (*document.Document, error) {
	if documentID == "" {
		p, ok := c.presence.Lookup(connID)
		if !ok {
			return nil, ErrUnknownConnection
		}
		documentID = p.DocumentID
	}
	doc, ok := c.docs.Get(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDocumentNotFound, documentID)
	}
	return doc, nil
}

// Disconnect detaches the connection from its document: its session ends,
// every cell lock it held is released, and the remaining members are told
// it left. The grid is left untouched. Unknown connections are ignored.
func (c *Coordinator) Disconnect(connID string) {
	p, ok := c.presence.Lookup(connID)
	if !ok {
		return
	}
	key := room.Key(p.DocumentID)

	leave := func(s *document.State) {
		c.rooms.Leave(key, connID)
		if s != nil {
			delete(s.Sessions, p.SessionID)
			for _, cellID := range s.Locks.ReleaseHeldBy(connID) {
				c.broadcast(key, protocol.CellEditEnded{CellID: cellID})
			}
		}
		c.presence.Remove(connID)
		c.broadcast(key, protocol.UserLeft(p))
		c.broadcast(key, protocol.UsersUpdated(c.presence.Participants(p.DocumentID)))
	}

	if doc, ok := c.docs.Get(p.DocumentID); ok {
		doc.Apply(leave)
	} else {
		leave(nil)
	}

	c.metrics.Participants.Dec()
	c.log.Info("participant left", "conn", connID, "doc", p.DocumentID, "session", p.SessionID)
}

func (c *Coordinator) send(m room.Member, msg protocol.Outbound) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.metrics.DroppedEvents.WithLabelValues(metrics.ReasonEncode).Inc()
		c.log.Error("error encoding event", "event", msg.EventName(), "error", err)
		return
	}
	c.rooms.Send(m, frame)
}

func (c *Coordinator) broadcast(key string, msg protocol.Outbound) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.metrics.DroppedEvents.WithLabelValues(metrics.ReasonEncode).Inc()
		c.log.Error("error encoding event", "event", msg.EventName(), "error", err)
		return
	}
	c.metrics.Broadcasts.WithLabelValues(msg.EventName()).Inc()
	c.rooms.Broadcast(key, frame)
}
