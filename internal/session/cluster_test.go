package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabgrid/internal/cluster"
	"collabgrid/internal/protocol"
)

// newInstance returns a fixture that claims documents as instance in mr,
// the way a server started with the redis backend does.
func newInstance(t *testing.T, mr *miniredis.Miniredis, instance string) *fixture {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })
	f := newFixture(t)
	owner := cluster.NewOwnership(rdb, instance, cluster.DefaultTTL, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)
	f.coord.owner = owner
	return f
}

func TestDocumentIsServedByOneInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr, "a")
	b := newInstance(t, mr, "b")

	c1, p1 := a.join(t, "c1", "doc1")
	require.NoError(t, a.coord.ChangeValue("c1", protocol.CellValueChange{RowIndex: 2, Field: "C", Value: "42"}))

	// A second instance must not start its own empty copy of doc1.
	c2 := &testConn{id: "c2"}
	_, err := b.coord.Join(c2, "doc1")
	require.ErrorIs(t, err, ErrNotServedHere)
	require.ErrorIs(t, err, cluster.ErrOwnedElsewhere)
	assert.True(t, c2.isClosed())
	assert.Equal(t, 0, b.docs.Len())

	// Reconnecting to the owner gives the real state and a shared roster.
	c1.take()
	c2 = &testConn{id: "c2"}
	p2, err := a.coord.Join(c2, "doc1")
	require.NoError(t, err)
	sj := sessionJoined(t, c2.take())
	assert.Equal(t, "42", sj.Grid[2]["C"])
	assert.Equal(t, protocol.UsersUpdated{p1, p2}, c1.take()[1])

	// Other documents can still live on the second instance.
	b.join(t, "c3", "doc2")
	assert.Equal(t, 1, b.docs.Len())

	owner, err := mr.Get(cluster.Key("doc1"))
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
}
