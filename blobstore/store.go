package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for accessing immutable data blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes. The blob becomes
	// visible to readers when the returned writer is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically. Readers never observe a partial blob.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all blobs whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// ReadAt reads len(p) bytes starting at offset off. It returns io.EOF
	// when fewer than len(p) bytes remain.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
	// ReadRange returns a reader over [off, off+length). Reading past the
	// end of the blob yields io.EOF.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob is a streaming write handle for a blob being created.
type WritableBlob interface {
	io.WriteCloser
	// Sync flushes written data to stable storage where the backend
	// supports it.
	Sync() error
}

// Mappable is an optional interface for Blobs that support memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	// This is a zero-copy operation if supported.
	Bytes() ([]byte, error)
}

// ConditionalPutter is an optional interface for stores that can create a
// blob only if the name is not already taken. It gives multi-writer setups
// first-writer-wins semantics on fresh names without a separate lock.
type ConditionalPutter interface {
	// PutIfNotExists writes a blob unless one with the same name exists.
	// The returned error is backend-specific on conflict.
	PutIfNotExists(ctx context.Context, name string, data []byte) error
}

// ReadAll reads the full contents of a named blob.
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	// The result must outlive the blob, so mapped bytes are copied too.
	if m, ok := blob.(Mappable); ok {
		mapped, err := m.Bytes()
		if err == nil {
			data := make([]byte, len(mapped))
			copy(data, mapped)
			return data, nil
		}
	}

	data := make([]byte, blob.Size())
	n, err := blob.ReadAt(ctx, data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) != blob.Size() {
		return nil, fmt.Errorf("blobstore: short read of %q: got %d of %d bytes", name, n, blob.Size())
	}
	return data, nil
}
