// Package blobstore provides storage abstraction for geoset's immutable files.
//
// BlobStore is the interface for reading and writing data blobs (snapshots,
// manifests). Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap support
//   - MemoryStore: In-memory store for testing
//   - s3.Store: Amazon S3 with range reads and parallel uploads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// CachingStore wraps any of them with block-level read caching.
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for streaming writes
//	    Put(ctx, name, data) error               // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs are written once and never modified in place; Put replaces a blob
// as a whole. Names use forward slashes regardless of platform.
package blobstore
