// Package identity hands out display names and colors for newly joined
// participants.
package identity

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Names is the pool of first names a display name is drawn from.
var Names = []string{
	"Alex", "Sam", "Jordan", "Casey", "Riley", "Morgan", "Avery", "Quinn",
	"Sage", "Rowan", "Ember", "River", "Sky", "Phoenix", "Kai",
}

// Colors is the palette participants are painted with.
var Colors = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e", "#06b6d4",
	"#3b82f6", "#8b5cf6", "#ec4899", "#f43f5e", "#84cc16",
}

// Identity is what other users see for a participant.
type Identity struct {
	Name  string
	Color string
}

// Generator produces random identities. The zero value is not usable; use New
// or NewWithSource.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Generator seeded from the runtime's random source.
func New() *Generator {
	return NewWithSource(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource returns a Generator drawing from src, for reproducible output.
func NewWithSource(src rand.Source) *Generator {
	return &Generator{rnd: rand.New(src)}
}

// Next returns a fresh identity, e.g. {"Riley417", "#3b82f6"}.
func (g *Generator) Next() Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := Names[g.rnd.IntN(len(Names))]
	return Identity{
		Name:  fmt.Sprintf("%s%d", name, g.rnd.IntN(1000)),
		Color: Colors[g.rnd.IntN(len(Colors))],
	}
}
