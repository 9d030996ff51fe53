package ledgerann

import (
	"errors"
	"fmt"

	"github.com/s9swata/ledgerann/hnsw"
	"github.com/s9swata/ledgerann/store"
)

var (
	// ErrNotFound is returned when an id is not present in the store.
	ErrNotFound = errors.New("not found")

	// ErrEmptyIndex is returned by searches against an index with no points.
	ErrEmptyIndex = hnsw.ErrEmptyIndex

	// ErrInvalidInput is returned for rejected arguments: empty or
	// non-finite vectors, k < 1.
	ErrInvalidInput = hnsw.ErrInvalidInput

	// ErrStorageUnavailable wraps failures of the backing store.
	ErrStorageUnavailable = hnsw.ErrStorageUnavailable
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidConfiguration indicates unusable index options.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidConfiguration struct {
	Reason string
	cause  error
}

func (e *ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ErrInvalidConfiguration) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Typed engine errors are rewrapped so callers only depend on this
	// package's types.
	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var ic *hnsw.ErrInvalidConfiguration
	if errors.As(err, &ic) {
		return &ErrInvalidConfiguration{Reason: ic.Reason, cause: err}
	}

	return err
}
