// Package room fans events out to every connection attached to a document.
//
// Delivery is fire-and-forget: a message is handed to each member's send
// queue without waiting, and a member that cannot keep up is evicted and
// closed rather than slowing down the rest of the room.
package room

import (
	"context"
	"log/slog"

	"collabgrid/internal/metrics"
)

// Member is one connection that can be placed in rooms.
type Member interface {
	ID() string
	// Deliver queues msg without blocking and reports whether it was accepted.
	Deliver(msg []byte) bool
	// Close tears down the member's connection.
	Close()
}

// Dispatcher delivers events to rooms. Calls made from one goroutine are
// delivered in the order they were made.
type Dispatcher interface {
	Join(room string, m Member)
	Leave(room, memberID string)
	Broadcast(room string, msg []byte)
	Send(m Member, msg []byte)
}

// Key returns the room key of a document.
func Key(documentID string) string {
	return "doc:" + documentID
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opBroadcast
	opSend
)

type op struct {
	kind     opKind
	room     string
	member   Member
	memberID string
	msg      []byte
}

// Hub is the in-process Dispatcher. All room bookkeeping happens on the
// goroutine running Run, fed by a single queue so that joins, leaves and
// deliveries keep the order they were submitted in.
type Hub struct {
	rooms   map[string]map[string]Member
	ops     chan op
	done    chan struct{}
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHub returns a Hub. Run must be started for anything to be delivered.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]Member),
		ops:     make(chan op, 1024),
		done:    make(chan struct{}),
		log:     logger,
		metrics: m,
	}
}

func (h *Hub) submit(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

func (h *Hub) Join(room string, m Member) {
	h.submit(op{kind: opJoin, room: room, member: m})
}

func (h *Hub) Leave(room, memberID string) {
	h.submit(op{kind: opLeave, room: room, memberID: memberID})
}

func (h *Hub) Broadcast(room string, msg []byte) {
	h.submit(op{kind: opBroadcast, room: room, msg: msg})
}

func (h *Hub) Send(m Member, msg []byte) {
	h.submit(op{kind: opSend, member: m, msg: msg})
}

// Run processes queued operations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opJoin:
		members := h.rooms[o.room]
		if members == nil {
			members = make(map[string]Member)
			h.rooms[o.room] = members
		}
		members[o.member.ID()] = o.member
		h.log.Debug("member joined room", "room", o.room, "member", o.member.ID(), "size", len(members))

	case opLeave:
		members, ok := h.rooms[o.room]
		if !ok {
			return
		}
		delete(members, o.memberID)
		if len(members) == 0 {
			delete(h.rooms, o.room)
		}
		h.log.Debug("member left room", "room", o.room, "member", o.memberID, "size", len(members))

	case opBroadcast:
		for id, m := range h.rooms[o.room] {
			if !m.Deliver(o.msg) {
				h.evict(id, m)
			}
		}

	case opSend:
		if !o.member.Deliver(o.msg) {
			h.evict(o.member.ID(), o.member)
		}
	}
}

// evict removes a member that stopped draining its queue from every room
// and closes it. The closed connection then goes through the normal
// disconnect path.
func (h *Hub) evict(id string, m Member) {
	for room, members := range h.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.metrics.Evictions.Inc()
	h.log.Warn("evicting slow member", "member", id)
	m.Close()
}
