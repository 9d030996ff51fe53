// Package blobstore abstracts durable storage for snapshot blobs.
//
// Snapshots are written and read as sequential streams, so the interface is
// deliberately stream-shaped rather than random-access. Implementations
// exist for memory (testing), the local filesystem, S3 and MinIO.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blobstore: blob not found")

// BlobStore is an abstraction for accessing snapshot blobs.
type BlobStore interface {
	// Open opens a blob for sequential reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Create creates a blob for sequential writing. The blob becomes
	// visible under name only after a successful Close; a failed or
	// abandoned write must not leave a partial blob readable.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WritableBlob is a streaming write handle. Close commits the blob.
type WritableBlob interface {
	io.WriteCloser
}
