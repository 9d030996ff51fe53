// Package store defines the persistence contract the HNSW engine is written
// against.
//
// The engine never touches a concrete backend; all durable state (point
// vectors, per-layer adjacency, metadata, the entry point) lives behind
// Store. Backends range from an in-memory reference implementation
// (memorystore) to remote key-value ledgers where every call is a network
// round trip (dynamostore). Because a round trip may be expensive, the
// contract includes batch reads and batch writes; the engine is required to
// use them instead of per-edge calls.
//
// Every method is individually atomic from the engine's perspective. Nothing
// in the contract implies cross-call transactions: after a crash between
// calls the structure must still be readable, and the engine is responsible
// for ordering its calls so the graph stays valid (see hnsw.Engine.Insert).
//
// Whether reads may run concurrently with an in-flight mutation is a
// per-backend isolation property; each implementation documents its own.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a point id is unknown to the store.
	ErrNotFound = errors.New("store: point not found")

	// ErrUnavailable wraps transient backend failures (timeouts, connection
	// loss, throttling). Callers own the retry policy; implementations must
	// return errors satisfying errors.Is(err, ErrUnavailable) for anything
	// retryable.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Neighbors is the adjacency of one node at one layer: neighbor id to the
// distance between the two nodes' vectors.
type Neighbors map[uint64]float32

// Clone returns a copy of n.
func (n Neighbors) Clone() Neighbors {
	if n == nil {
		return nil
	}
	out := make(Neighbors, len(n))
	for id, d := range n {
		out[id] = d
	}
	return out
}

// EntryPoint identifies the fixed starting node for every traversal.
type EntryPoint struct {
	ID       uint64
	TopLayer int
}

// Store is the persistence capability consumed by the engine.
type Store interface {
	// AllocatePoint persists a new point vector and returns a fresh id.
	// Ids are non-negative, unique for the lifetime of the store and never
	// reused.
	AllocatePoint(ctx context.Context, vector []float32) (uint64, error)

	// GetPoint returns the vector for id, or ErrNotFound.
	GetPoint(ctx context.Context, id uint64) ([]float32, error)

	// GetPoints returns the vectors for all ids in one round trip where the
	// backend allows it. Unknown ids are simply absent from the result.
	GetPoints(ctx context.Context, ids []uint64) (map[uint64][]float32, error)

	// GetMetadata returns the metadata bytes for id, or nil if the point has
	// none. Returns ErrNotFound for unknown ids.
	GetMetadata(ctx context.Context, id uint64) ([]byte, error)

	// SetMetadata associates metadata bytes with id.
	SetMetadata(ctx context.Context, id uint64, metadata []byte) error

	// GetNeighbors returns the adjacency of id at layer. An empty (non-nil)
	// map means the node has no edges at that layer.
	GetNeighbors(ctx context.Context, id uint64, layer int) (Neighbors, error)

	// GetNeighborsBatch returns the adjacency of every id at layer in one
	// round trip where the backend allows it.
	GetNeighborsBatch(ctx context.Context, ids []uint64, layer int) (map[uint64]Neighbors, error)

	// SetNeighbors replaces the adjacency of id at layer.
	SetNeighbors(ctx context.Context, id uint64, layer int, neighbors Neighbors) error

	// SetNeighborsBatch replaces the adjacency of several nodes at one layer
	// in one round trip where the backend allows it.
	SetNeighborsBatch(ctx context.Context, layer int, updates map[uint64]Neighbors) error

	// GetEntryPoint returns the current entry point. ok is false only while
	// the store holds zero points.
	GetEntryPoint(ctx context.Context) (ep EntryPoint, ok bool, err error)

	// SetEntryPoint updates the entry point.
	SetEntryPoint(ctx context.Context, ep EntryPoint) error

	// PointCount returns the number of allocated points.
	PointCount(ctx context.Context) (int, error)
}
