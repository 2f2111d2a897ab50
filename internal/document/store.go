// Package document owns the grid contents of every document along with the
// per-document state that must change together with it: the attached
// sessions and the cell lock table.
//
// Each Document has a single writer at a time. Callers reach its state only
// through Apply, which holds the document's mutex for the duration of the
// callback, so mutations and the notifications they trigger are ordered the
// same way for every observer of that document.
package document

import (
	"sort"
	"sync"
	"time"

	"collabgrid/internal/locks"
)

// State is the mutable part of a Document. It is only valid inside Apply.
type State struct {
	Grid     Grid
	Locks    *locks.Table
	Sessions map[string]struct{} // attached session ids
}

// Document is one shared grid.
type Document struct {
	ID      string
	Created time.Time

	mu    sync.Mutex
	state State
}

func newDocument(id string, now time.Time) *Document {
	return &Document{
		ID:      id,
		Created: now,
		state: State{
			Grid:     NewGrid(),
			Locks:    locks.NewTable(),
			Sessions: make(map[string]struct{}),
		},
	}
}

// Apply runs fn with exclusive access to the document's state.
func (d *Document) Apply(fn func(s *State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.state)
}

// Info is a read-only summary of a document for diagnostics.
type Info struct {
	ID       string
	Created  time.Time
	Sessions int
	Locks    int
	// Filled counts the non-empty cells.
	Filled int
}

// Info returns a summary of d.
func (d *Document) Info() Info {
	info := Info{ID: d.ID, Created: d.Created}
	d.Apply(func(s *State) {
		info.Sessions = len(s.Sessions)
		info.Locks = s.Locks.Len()
		for row := range Rows {
			for _, col := range Columns {
				if s.Grid.Get(row, col) != "" {
					info.Filled++
				}
			}
		}
	})
	return info
}

// Store maps document ids to documents. Documents are created lazily and
// live until the process exits.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document
	now  func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]*Document), now: time.Now}
}

// Get returns the document with the given id.
func (s *Store) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// GetOrCreate returns the document with the given id, creating an empty one
// if needed. created reports whether this call created it.
func (s *Store) GetOrCreate(id string) (doc *Document, created bool) {
	s.mu.RLock()
	d, ok := s.docs[id]
	s.mu.RUnlock()
	if ok {
		return d, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok = s.docs[id]; ok {
		return d, false
	}
	d = newDocument(id, s.now())
	s.docs[id] = d
	return d, true
}

// List returns all documents ordered by id.
func (s *Store) List() []*Document {
	s.mu.RLock()
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
