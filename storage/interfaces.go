package storage

import "context"

// Store is a key-addressed blob store.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Put writes data at path, replacing any existing blob.
	Put(ctx context.Context, path string, data []byte) error

	// Get reads the blob at path.
	// Returns ErrNotFound if no blob exists.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the blob at path. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error

	// Close releases resources held by the store.
	Close() error
}
