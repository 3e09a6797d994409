package blobstore

import (
	"context"
	"io"
	"os"
	"path"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore stores immutable blobs. Implementations must be safe for
// concurrent use.
type BlobStore interface {
	// Put writes a blob. size is the number of bytes r yields, or -1 if
	// unknown. A blob becomes visible only once Put returns nil.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Open returns a reader over a blob.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ContentType returns the MIME type stores attach to an index file.
// Manifests and ID sidecars are JSON, everything else is binary.
func ContentType(name string) string {
	if path.Ext(name) == ".json" {
		return "application/json"
	}
	return "application/octet-stream"
}
