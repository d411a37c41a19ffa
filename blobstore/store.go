package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store reads and writes named blobs. Names use forward slashes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under name, replacing any previous blob. Readers never
	// observe a partially written blob.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the full contents of the blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
