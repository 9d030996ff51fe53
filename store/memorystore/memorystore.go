// Package memorystore provides the in-memory reference implementation of
// store.Store.
//
// It exists for tests and for small indexes that are later exported through
// the snapshot package. All state is guarded by one RWMutex: reads are safe
// against each other, but a reader concurrent with an in-flight engine
// insert observes intermediate graph states (single neighbor lists are
// replaced atomically, the insert as a whole is not). Serialize reads with
// writes externally if that matters.
package memorystore

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/s9swata/ledgerann/store"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.RWMutex
	vectors   map[uint64][]float32
	metadata  map[uint64][]byte
	layers    map[int]map[uint64]store.Neighbors // layer -> node -> adjacency
	members   map[int]*roaring64.Bitmap          // layer -> nodes with adjacency rows
	ep        store.EntryPoint
	hasEP     bool
	nextID    uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		vectors:  make(map[uint64][]float32),
		metadata: make(map[uint64][]byte),
		layers:   make(map[int]map[uint64]store.Neighbors),
		members:  make(map[int]*roaring64.Bitmap),
	}
}

// AllocatePoint implements store.Store.
func (s *Store) AllocatePoint(_ context.Context, vector []float32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	s.vectors[id] = vec

	return id, nil
}

// GetPoint implements store.Store.
func (s *Store) GetPoint(_ context.Context, id uint64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vec, ok := s.vectors[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

// GetPoints implements store.Store.
func (s *Store) GetPoints(_ context.Context, ids []uint64) (map[uint64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64][]float32, len(ids))
	for _, id := range ids {
		if vec, ok := s.vectors[id]; ok {
			c := make([]float32, len(vec))
			copy(c, vec)
			out[id] = c
		}
	}
	return out, nil
}

// GetMetadata implements store.Store.
func (s *Store) GetMetadata(_ context.Context, id uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.vectors[id]; !ok {
		return nil, store.ErrNotFound
	}

	meta, ok := s.metadata[id]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(meta))
	copy(out, meta)
	return out, nil
}

// SetMetadata implements store.Store.
func (s *Store) SetMetadata(_ context.Context, id uint64, metadata []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return store.ErrNotFound
	}

	c := make([]byte, len(metadata))
	copy(c, metadata)
	s.metadata[id] = c
	return nil
}

// GetNeighbors implements store.Store.
func (s *Store) GetNeighbors(_ context.Context, id uint64, layer int) (store.Neighbors, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(id, layer), nil
}

// GetNeighborsBatch implements store.Store.
func (s *Store) GetNeighborsBatch(_ context.Context, ids []uint64, layer int) (map[uint64]store.Neighbors, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint64]store.Neighbors, len(ids))
	for _, id := range ids {
		out[id] = s.neighborsLocked(id, layer)
	}
	return out, nil
}

func (s *Store) neighborsLocked(id uint64, layer int) store.Neighbors {
	nodes, ok := s.layers[layer]
	if !ok {
		return store.Neighbors{}
	}
	adj, ok := nodes[id]
	if !ok {
		return store.Neighbors{}
	}
	return adj.Clone()
}

// SetNeighbors implements store.Store.
func (s *Store) SetNeighbors(_ context.Context, id uint64, layer int, neighbors store.Neighbors) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNeighborsLocked(id, layer, neighbors)
	return nil
}

// SetNeighborsBatch implements store.Store.
func (s *Store) SetNeighborsBatch(_ context.Context, layer int, updates map[uint64]store.Neighbors) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, neighbors := range updates {
		s.setNeighborsLocked(id, layer, neighbors)
	}
	return nil
}

func (s *Store) setNeighborsLocked(id uint64, layer int, neighbors store.Neighbors) {
	nodes, ok := s.layers[layer]
	if !ok {
		nodes = make(map[uint64]store.Neighbors)
		s.layers[layer] = nodes
	}
	nodes[id] = neighbors.Clone()

	bm, ok := s.members[layer]
	if !ok {
		bm = roaring64.New()
		s.members[layer] = bm
	}
	bm.Add(id)
}

// GetEntryPoint implements store.Store.
func (s *Store) GetEntryPoint(_ context.Context) (store.EntryPoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ep, s.hasEP, nil
}

// SetEntryPoint implements store.Store.
func (s *Store) SetEntryPoint(_ context.Context, ep store.EntryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ep = ep
	s.hasEP = true
	return nil
}

// PointCount implements store.Store.
func (s *Store) PointCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

// LayerMembers returns the ids that have an adjacency row at layer, as a
// bitmap copy. Used by tests to verify the layer containment invariant.
func (s *Store) LayerMembers(layer int) *roaring64.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.members[layer]
	if !ok {
		return roaring64.New()
	}
	return bm.Clone()
}

// MaxLayer returns the highest layer holding any adjacency row, or -1.
func (s *Store) MaxLayer() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxLayer := -1
	for layer, bm := range s.members {
		if !bm.IsEmpty() && layer > maxLayer {
			maxLayer = layer
		}
	}
	return maxLayer
}
