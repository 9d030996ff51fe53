// Package cachedstore provides a read-through caching decorator for
// store.Store.
//
// Against a remote ledger backend every read is a network round trip;
// wrapping it in a Store from this package keeps hot points and adjacency
// rows in an in-process LRU. Concurrent misses for the same key are
// collapsed into a single backend call via singleflight.
//
// Isolation: cached reads may lag behind an in-flight insert on the inner
// store by design. Mutations through this decorator invalidate the affected
// keys, so a single-writer setup (as the engine mandates) observes its own
// writes; independent writers bypassing the decorator are not detected.
package cachedstore

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/s9swata/ledgerann/internal/cache"
	"github.com/s9swata/ledgerann/store"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Options represents the options for configuring the cached store.
type Options struct {
	// Capacity is the maximum number of cached entries (points, adjacency
	// rows and metadata values count individually).
	Capacity int
}

// DefaultOptions holds the defaults.
var DefaultOptions = Options{
	Capacity: 16384,
}

// Store wraps an inner store.Store with an LRU read cache.
type Store struct {
	inner store.Store
	cache *cache.LRU
	group singleflight.Group
}

// New creates a caching decorator around inner.
func New(inner store.Store, optFns ...func(o *Options)) *Store {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		inner: inner,
		cache: cache.NewLRU(opts.Capacity),
	}
}

// AllocatePoint implements store.Store. The fresh point is cached eagerly
// since the engine reads it back immediately while linking.
func (s *Store) AllocatePoint(ctx context.Context, vector []float32) (uint64, error) {
	id, err := s.inner.AllocatePoint(ctx, vector)
	if err != nil {
		return 0, err
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	s.cache.Set(cache.Key{Kind: cache.KindPoint, ID: id}, vec)

	return id, nil
}

// GetPoint implements store.Store.
func (s *Store) GetPoint(ctx context.Context, id uint64) ([]float32, error) {
	key := cache.Key{Kind: cache.KindPoint, ID: id}
	if v, ok := s.cache.Get(key); ok {
		return v.([]float32), nil
	}

	v, err, _ := s.group.Do(flightKey(key), func() (any, error) {
		vec, err := s.inner.GetPoint(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// GetPoints implements store.Store. Cached vectors are served locally; only
// the misses go to the inner store, in one batch.
func (s *Store) GetPoints(ctx context.Context, ids []uint64) (map[uint64][]float32, error) {
	out := make(map[uint64][]float32, len(ids))
	var misses []uint64

	for _, id := range ids {
		if v, ok := s.cache.Get(cache.Key{Kind: cache.KindPoint, ID: id}); ok {
			out[id] = v.([]float32)
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.inner.GetPoints(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, vec := range fetched {
		s.cache.Set(cache.Key{Kind: cache.KindPoint, ID: id}, vec)
		out[id] = vec
	}
	return out, nil
}

// GetMetadata implements store.Store.
func (s *Store) GetMetadata(ctx context.Context, id uint64) ([]byte, error) {
	key := cache.Key{Kind: cache.KindMetadata, ID: id}
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}

	v, err, _ := s.group.Do(flightKey(key), func() (any, error) {
		meta, err := s.inner.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, meta)
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// SetMetadata implements store.Store.
func (s *Store) SetMetadata(ctx context.Context, id uint64, metadata []byte) error {
	if err := s.inner.SetMetadata(ctx, id, metadata); err != nil {
		return err
	}

	c := make([]byte, len(metadata))
	copy(c, metadata)
	s.cache.Set(cache.Key{Kind: cache.KindMetadata, ID: id}, c)
	return nil
}

// GetNeighbors implements store.Store.
func (s *Store) GetNeighbors(ctx context.Context, id uint64, layer int) (store.Neighbors, error) {
	key := cache.Key{Kind: cache.KindNeighbors, ID: id, Layer: layer}
	if v, ok := s.cache.Get(key); ok {
		return v.(store.Neighbors).Clone(), nil
	}

	v, err, _ := s.group.Do(flightKey(key), func() (any, error) {
		neighbors, err := s.inner.GetNeighbors(ctx, id, layer)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, neighbors)
		return neighbors, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(store.Neighbors).Clone(), nil
}

// GetNeighborsBatch implements store.Store.
func (s *Store) GetNeighborsBatch(ctx context.Context, ids []uint64, layer int) (map[uint64]store.Neighbors, error) {
	out := make(map[uint64]store.Neighbors, len(ids))
	var misses []uint64

	for _, id := range ids {
		if v, ok := s.cache.Get(cache.Key{Kind: cache.KindNeighbors, ID: id, Layer: layer}); ok {
			out[id] = v.(store.Neighbors).Clone()
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.inner.GetNeighborsBatch(ctx, misses, layer)
	if err != nil {
		return nil, err
	}
	for id, neighbors := range fetched {
		s.cache.Set(cache.Key{Kind: cache.KindNeighbors, ID: id, Layer: layer}, neighbors)
		out[id] = neighbors.Clone()
	}
	return out, nil
}

// SetNeighbors implements store.Store.
func (s *Store) SetNeighbors(ctx context.Context, id uint64, layer int, neighbors store.Neighbors) error {
	if err := s.inner.SetNeighbors(ctx, id, layer, neighbors); err != nil {
		// Unknown outcome on the backend; drop the stale entry.
		s.cache.Invalidate(func(k cache.Key) bool {
			return k.Kind == cache.KindNeighbors && k.ID == id && k.Layer == layer
		})
		return err
	}

	s.cache.Set(cache.Key{Kind: cache.KindNeighbors, ID: id, Layer: layer}, neighbors.Clone())
	return nil
}

// SetNeighborsBatch implements store.Store.
func (s *Store) SetNeighborsBatch(ctx context.Context, layer int, updates map[uint64]store.Neighbors) error {
	if err := s.inner.SetNeighborsBatch(ctx, layer, updates); err != nil {
		s.cache.Invalidate(func(k cache.Key) bool {
			if k.Kind != cache.KindNeighbors || k.Layer != layer {
				return false
			}
			_, ok := updates[k.ID]
			return ok
		})
		return err
	}

	for id, neighbors := range updates {
		s.cache.Set(cache.Key{Kind: cache.KindNeighbors, ID: id, Layer: layer}, neighbors.Clone())
	}
	return nil
}

// GetEntryPoint implements store.Store. The entry point is tiny and mutated
// rarely but read on every operation; it is always fetched through the inner
// store to keep multi-process readers coherent.
func (s *Store) GetEntryPoint(ctx context.Context) (store.EntryPoint, bool, error) {
	return s.inner.GetEntryPoint(ctx)
}

// SetEntryPoint implements store.Store.
func (s *Store) SetEntryPoint(ctx context.Context, ep store.EntryPoint) error {
	return s.inner.SetEntryPoint(ctx, ep)
}

// PointCount implements store.Store.
func (s *Store) PointCount(ctx context.Context) (int, error) {
	return s.inner.PointCount(ctx)
}

// CacheStats returns cumulative hit/miss counters of the underlying LRU.
func (s *Store) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

func flightKey(k cache.Key) string {
	return fmt.Sprintf("%d/%d/%d", k.Kind, k.ID, k.Layer)
}
