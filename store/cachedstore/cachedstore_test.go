package cachedstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/s9swata/ledgerann/store"
	"github.com/s9swata/ledgerann/store/memorystore"
)

// countingStore wraps a store and counts calls reaching the backend.
type countingStore struct {
	store.Store

	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func newCountingStore() *countingStore {
	return &countingStore{
		Store: memorystore.New(),
		calls: make(map[string]int),
	}
}

func (c *countingStore) count(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.fail
}

func (c *countingStore) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingStore) GetPoint(ctx context.Context, id uint64) ([]float32, error) {
	if err := c.count("GetPoint"); err != nil {
		return nil, err
	}
	return c.Store.GetPoint(ctx, id)
}

func (c *countingStore) GetPoints(ctx context.Context, ids []uint64) (map[uint64][]float32, error) {
	if err := c.count("GetPoints"); err != nil {
		return nil, err
	}
	return c.Store.GetPoints(ctx, ids)
}

func (c *countingStore) GetNeighbors(ctx context.Context, id uint64, layer int) (store.Neighbors, error) {
	if err := c.count("GetNeighbors"); err != nil {
		return nil, err
	}
	return c.Store.GetNeighbors(ctx, id, layer)
}

func (c *countingStore) GetNeighborsBatch(ctx context.Context, ids []uint64, layer int) (map[uint64]store.Neighbors, error) {
	if err := c.count("GetNeighborsBatch"); err != nil {
		return nil, err
	}
	return c.Store.GetNeighborsBatch(ctx, ids, layer)
}

func (c *countingStore) SetNeighbors(ctx context.Context, id uint64, layer int, neighbors store.Neighbors) error {
	if err := c.count("SetNeighbors"); err != nil {
		return err
	}
	return c.Store.SetNeighbors(ctx, id, layer, neighbors)
}

func TestGetPointCached(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner)

	id, err := s.AllocatePoint(ctx, []float32{1, 2})
	assert.NoError(t, err)

	// AllocatePoint caches eagerly, so no backend read happens.
	vec, err := s.GetPoint(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, 0, inner.callCount("GetPoint"))

	hits, misses := s.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), misses)
}

func TestGetPointsBatchesOnlyMisses(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner)

	var ids []uint64
	for i := 0; i < 4; i++ {
		id, _ := inner.AllocatePoint(ctx, []float32{float32(i)})
		ids = append(ids, id)
	}

	// Warm two of four.
	_, err := s.GetPoint(ctx, ids[0])
	assert.NoError(t, err)
	_, err = s.GetPoint(ctx, ids[1])
	assert.NoError(t, err)
	assert.Equal(t, 2, inner.callCount("GetPoint"))

	vecs, err := s.GetPoints(ctx, ids)
	assert.NoError(t, err)
	assert.Len(t, vecs, 4)
	assert.Equal(t, 1, inner.callCount("GetPoints"))

	// Everything cached now; the next batch read stays local.
	_, err = s.GetPoints(ctx, ids)
	assert.NoError(t, err)
	assert.Equal(t, 1, inner.callCount("GetPoints"))
}

func TestNeighborsWriteThrough(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner)

	id, _ := s.AllocatePoint(ctx, []float32{1})

	assert.NoError(t, s.SetNeighbors(ctx, id, 0, store.Neighbors{7: 0.5}))

	// Write-through populated the cache.
	neighbors, err := s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Equal(t, store.Neighbors{7: 0.5}, neighbors)
	assert.Equal(t, 0, inner.callCount("GetNeighbors"))

	// Mutating the returned map must not leak into the cache.
	neighbors[9] = 0.1
	again, err := s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestFailedWriteInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner)

	id, _ := s.AllocatePoint(ctx, []float32{1})
	assert.NoError(t, s.SetNeighbors(ctx, id, 0, store.Neighbors{7: 0.5}))

	inner.fail = errors.New("backend down")
	assert.Error(t, s.SetNeighbors(ctx, id, 0, store.Neighbors{8: 0.6}))
	inner.fail = nil

	// The stale entry was dropped; the next read goes to the backend.
	neighbors, err := s.GetNeighbors(ctx, id, 0)
	assert.NoError(t, err)
	assert.Equal(t, store.Neighbors{7: 0.5}, neighbors)
	assert.Equal(t, 1, inner.callCount("GetNeighbors"))
}

func TestEntryPointPassThrough(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner)

	_, ok, err := s.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.SetEntryPoint(ctx, store.EntryPoint{ID: 1, TopLayer: 0}))

	ep, ok, err := s.GetEntryPoint(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), ep.ID)
}

func TestCapacityOption(t *testing.T) {
	ctx := context.Background()
	inner := newCountingStore()
	s := New(inner, func(o *Options) {
		o.Capacity = 1
	})

	id0, _ := s.AllocatePoint(ctx, []float32{0})
	id1, _ := s.AllocatePoint(ctx, []float32{1})

	// id0 was evicted by id1, so reading it hits the backend.
	_, err := s.GetPoint(ctx, id0)
	assert.NoError(t, err)
	assert.Equal(t, 1, inner.callCount("GetPoint"))

	_ = id1
}
