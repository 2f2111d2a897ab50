package document

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabgrid/internal/presence"
)

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("doc1")
	assert.False(t, ok)

	d1, created := s.GetOrCreate("doc1")
	require.True(t, created)
	d2, created := s.GetOrCreate("doc1")
	assert.False(t, created)
	assert.Same(t, d1, d2)

	got, ok := s.Get("doc1")
	require.True(t, ok)
	assert.Same(t, d1, got)
	assert.Equal(t, 1, s.Len())
}

func TestNewDocumentStartsEmpty(t *testing.T) {
	s := NewStore()
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	d, _ := s.GetOrCreate("doc1")
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), d.Created)

	d.Apply(func(st *State) {
		assert.Equal(t, NewGrid(), st.Grid)
		assert.Zero(t, st.Locks.Len())
		assert.Empty(t, st.Sessions)
	})
}

func TestEmptyIDIsAnOrdinaryDocument(t *testing.T) {
	s := NewStore()
	d, created := s.GetOrCreate("")
	assert.True(t, created)
	assert.Equal(t, "", d.ID)
}

func TestListOrderedByID(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.GetOrCreate(id)
	}

	var ids []string
	for _, d := range s.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestInfo(t *testing.T) {
	s := NewStore()
	d, _ := s.GetOrCreate("doc1")
	d.Apply(func(st *State) {
		st.Sessions["s1"] = struct{}{}
		st.Locks.Start("A1", presence.Participant{ID: "c1"})
		require.NoError(t, st.Grid.Set(0, "A", "x"))
		require.NoError(t, st.Grid.Set(9, "J", "y"))
		require.NoError(t, st.Grid.Set(4, "C", ""))
	})

	info := d.Info()
	assert.Equal(t, "doc1", info.ID)
	assert.Equal(t, 1, info.Sessions)
	assert.Equal(t, 1, info.Locks)
	assert.Equal(t, 2, info.Filled)
}

func TestApplySerializesWriters(t *testing.T) {
	s := NewStore()
	d, _ := s.GetOrCreate("doc1")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Apply(func(st *State) {
				cur := st.Grid.Get(0, "A")
				st.Grid[0]["A"] = cur + "x"
			})
		}()
	}
	wg.Wait()

	d.Apply(func(st *State) {
		assert.Len(t, st.Grid.Get(0, "A"), 50)
	})
}

func TestConcurrentGetOrCreateYieldsOneDocument(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	docs := make([]*Document, 20)
	for i := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs[i], _ = s.GetOrCreate("shared")
		}()
	}
	wg.Wait()

	for _, d := range docs {
		assert.Same(t, docs[0], d)
	}
}
