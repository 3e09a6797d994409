// Package blobstore mirrors published variant files to object storage.
//
// A BlobStore holds immutable blobs under slash-separated names. The
// Mirror adapts a BlobStore to the engine's publication hook: every
// committed manifest change uploads its new segment files first and the
// manifest last, so a reader of the mirror that follows the manifest never
// finds a missing segment.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 through the upload manager
//   - minio.Store: MinIO and other S3-compatible storage
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Put(ctx, name, r, size) error
//	    Open(ctx, name) (io.ReadCloser, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
