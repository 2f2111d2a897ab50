// Package presence tracks which participants are attached to which document.
package presence

import (
	"sync"
)

// Participant is the identity of one connection's attachment to a document.
// It is created on join and destroyed on disconnect; DocumentID never changes
// for the lifetime of a Participant.
type Participant struct {
	ID         string `json:"id"` // connection id
	Name       string `json:"name"`
	Color      string `json:"color"`
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
}

// Registry maps live connections to their Participant and documents to the
// participants attached to them, in join order.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]Participant
	byDoc  map[string][]Participant
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]Participant),
		byDoc:  make(map[string][]Participant),
	}
}

// Register records p for its connection. A previous record for the same
// connection is replaced and moved to the end of its document's roster.
func (r *Registry) Register(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConn[p.ID]; ok {
		r.dropLocked(old)
	}
	r.byConn[p.ID] = p
	r.byDoc[p.DocumentID] = append(r.byDoc[p.DocumentID], p)
}

// Lookup returns the Participant registered for connID.
func (r *Registry) Lookup(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[connID]
	return p, ok
}

// Remove deletes the Participant registered for connID and returns it.
func (r *Registry) Remove(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	delete(r.byConn, connID)
	r.dropLocked(p)
	return p, true
}

func (r *Registry) dropLocked(p Participant) {
	roster := r.byDoc[p.DocumentID]
	for i := range roster {
		if roster[i].ID == p.ID {
			roster = append(roster[:i:i], roster[i+1:]...)
			break
		}
	}
	if len(roster) == 0 {
		delete(r.byDoc, p.DocumentID)
		return
	}
	r.byDoc[p.DocumentID] = roster
}

// Participants returns a copy of the roster of docID in join order. The
// result is never nil so it encodes as an empty JSON array.
func (r *Registry) Participants(docID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := r.byDoc[docID]
	out := make([]Participant, len(roster))
	copy(out, roster)
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
