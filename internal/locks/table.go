// Package locks tracks which participant is editing which cell of a
// document. Locks are advisory markers: a new start always wins.
package locks

import (
	"maps"
	"slices"

	"collabgrid/internal/presence"
)

// Table holds the cell locks of a single document. It is not safe for
// concurrent use; the owning document serializes access to it.
type Table struct {
	holders map[string]presence.Participant // cellID -> holder
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{holders: make(map[string]presence.Participant)}
}

// Start marks cellID as edited by holder, overwriting any previous holder.
// The previous holder, if any, is returned.
func (t *Table) Start(cellID string, holder presence.Participant) (presence.Participant, bool) {
	prev, had := t.holders[cellID]
	t.holders[cellID] = holder
	return prev, had
}

// End clears the lock on cellID and reports whether one was present.
func (t *Table) End(cellID string) bool {
	if _, ok := t.holders[cellID]; !ok {
		return false
	}
	delete(t.holders, cellID)
	return true
}

// Holder returns the participant currently editing cellID.
func (t *Table) Holder(cellID string) (presence.Participant, bool) {
	p, ok := t.holders[cellID]
	return p, ok
}

// ReleaseHeldBy removes every lock held by the connection connID and returns
// the released cell ids in ascending order.
func (t *Table) ReleaseHeldBy(connID string) []string {
	var released []string
	for cellID, holder := range t.holders {
		if holder.ID == connID {
			released = append(released, cellID)
		}
	}
	for _, cellID := range released {
		delete(t.holders, cellID)
	}
	slices.Sort(released)
	return released
}

// Snapshot returns a copy of the lock map, cellID -> holder.
func (t *Table) Snapshot() map[string]presence.Participant {
	return maps.Clone(t.holders)
}

// Len returns the number of locked cells.
func (t *Table) Len() int { return len(t.holders) }
