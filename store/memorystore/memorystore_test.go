package memorystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/s9swata/ledgerann/store"
)

func TestAllocatePointMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	for want := uint64(0); want < 5; want++ {
		id, err := s.AllocatePoint(ctx, []float32{float32(want)})
		assert.NoError(t, err)
		assert.Equal(t, want, id)
	}

	count, err := s.PointCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestGetPoint(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.AllocatePoint(ctx, []float32{1, 2, 3})
	assert.NoError(t, err)

	vec, err := s.GetPoint(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	// Returned slice is a copy.
	vec[0] = 99
	again, err := s.GetPoint(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, float32(1), again[0])

	_, err = s.GetPoint(ctx, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetPointsSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s := New()

	id0, _ := s.AllocatePoint(ctx, []float32{1})
	id1, _ := s.AllocatePoint(ctx, []float32{2})

	vecs, err := s.GetPoints(ctx, []uint64{id0, id1, 99})
	assert.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, []float32{1}, vecs[id0])
	assert.Equal(t, []float32{2}, vecs[id1])
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.AllocatePoint(ctx, []float32{1})

	// No metadata yet: nil, nil.
	meta, err := s.GetMetadata(ctx, id)
	assert.NoError(t, err)
	assert.Nil(t, meta)

	assert.NoError(t, s.SetMetadata(ctx, id, []byte("hello")))

	meta, err = s.GetMetadata(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), meta)

	// Unknown id is an error, distinct from missing metadata.
	_, err = s.GetMetadata(ctx, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetMetadata(ctx, 42, []byte("x")), store.ErrNotFound)
}

func TestNeighbors(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.AllocatePoint(ctx, []float32{1})

	// Absent adjacency row reads as empty, not as an error.
	neighbors, err := s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Empty(t, neighbors)

	adj := store.Neighbors{2: 0.5, 3: 0.7}
	assert.NoError(t, s.SetNeighbors(ctx, id, 0, adj))

	got, err := s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Equal(t, adj, got)

	// Stored adjacency is isolated from caller mutations.
	adj[9] = 0.1
	got, err = s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Len(t, got, 2)

	// Set replaces, not merges.
	assert.NoError(t, s.SetNeighbors(ctx, id, 0, store.Neighbors{7: 0.2}))
	got, _ = s.GetNeighbors(ctx, id, 0)
	assert.Equal(t, store.Neighbors{7: 0.2}, got)
}

func TestNeighborsBatch(t *testing.T) {
	ctx := context.Background()
	s := New()

	id0, _ := s.AllocatePoint(ctx, []float32{1})
	id1, _ := s.AllocatePoint(ctx, []float32{2})

	updates := map[uint64]store.Neighbors{
		id0: {id1: 0.5},
		id1: {id0: 0.5},
	}
	assert.NoError(t, s.SetNeighborsBatch(ctx, 1, updates))

	got, err := s.GetNeighborsBatch(ctx, []uint64{id0, id1}, 1)
	assert.NoError(t, err)
	assert.Equal(t, store.Neighbors{id1: 0.5}, got[id0])
	assert.Equal(t, store.Neighbors{id0: 0.5}, got[id1])

	// Layer 0 is untouched.
	got, err = s.GetNeighborsBatch(ctx, []uint64{id0}, 0)
	assert.NoError(t, err)
	assert.Empty(t, got[id0])
}

func TestEntryPoint(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.SetEntryPoint(ctx, store.EntryPoint{ID: 3, TopLayer: 2}))

	ep, ok, err := s.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), ep.ID)
	assert.Equal(t, 2, ep.TopLayer)
}

func TestLayerMembers(t *testing.T) {
	ctx := context.Background()
	s := New()

	id0, _ := s.AllocatePoint(ctx, []float32{1})
	id1, _ := s.AllocatePoint(ctx, []float32{2})

	s.SetNeighbors(ctx, id0, 0, store.Neighbors{id1: 0.5})
	s.SetNeighbors(ctx, id1, 0, store.Neighbors{id0: 0.5})
	s.SetNeighbors(ctx, id0, 1, store.Neighbors{})

	assert.Equal(t, uint64(2), s.LayerMembers(0).GetCardinality())
	assert.True(t, s.LayerMembers(1).Contains(id0))
	assert.False(t, s.LayerMembers(1).Contains(id1))
	assert.Equal(t, 1, s.MaxLayer())

	empty := New()
	assert.Equal(t, -1, empty.MaxLayer())
}
