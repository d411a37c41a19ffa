// Package blobstore stores the artifacts a training run produces: cached
// feature sets, the best adapter checkpoint and its versioned snapshots.
//
// Store is the interface every backend implements:
//
//	type Store interface {
//	    Put(ctx, name, data) error         // Atomic write
//	    Get(ctx, name) ([]byte, error)     // Whole-blob read
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, rooted at the run's cache directory
//   - MemoryStore: in-process map, used by tests
//   - minio.Store: MinIO and other S3-compatible object storage
package blobstore
