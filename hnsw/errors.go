package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyIndex is returned by searches against a store holding zero
	// points. A boundary signal, not a corruption: insert something first.
	ErrEmptyIndex = errors.New("hnsw: empty index")

	// ErrInvalidInput is returned for arguments rejected before any storage
	// call: empty vectors, non-finite components, k < 1.
	ErrInvalidInput = errors.New("hnsw: invalid input")

	// ErrStorageUnavailable wraps storage failures. The engine never
	// retries; retry/backoff policy belongs to the caller or the store
	// implementation.
	ErrStorageUnavailable = errors.New("hnsw: storage unavailable")
)

// ErrInvalidConfiguration indicates unusable options. Raised once at
// construction, never at call time.
type ErrInvalidConfiguration struct {
	Reason string
}

func (e *ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("hnsw: invalid configuration: %s", e.Reason)
}

// ErrDimensionMismatch indicates a vector whose length differs from the
// dimensionality fixed by the first inserted vector.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
