// Package visited tracks which node ids a traversal has already expanded.
//
// Node ids are monotonically assigned but unbounded for the lifetime of a
// store, so the set is backed by a Roaring bitmap rather than a dense slice.
package visited

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// Set is a reusable visited-node set. Not safe for concurrent use; each
// traversal owns its own Set.
type Set struct {
	bits *roaring64.Bitmap
}

// New creates an empty visited set.
func New() *Set {
	return &Set{bits: roaring64.New()}
}

// Visit marks a node as visited.
func (s *Set) Visit(id uint64) { s.bits.Add(id) }

// Visited returns true if the node has been visited.
func (s *Set) Visited(id uint64) bool { return s.bits.Contains(id) }

// Len returns the number of visited nodes.
func (s *Set) Len() int { return int(s.bits.GetCardinality()) }

// Reset clears the set for reuse.
func (s *Set) Reset() { s.bits.Clear() }
