// Package vecshard maintains segmented approximate nearest neighbor indexes
// on local storage.
//
// Embeddings arrive in batches. Each batch becomes an immutable segment:
// an index file plus a JSON sidecar mapping rows to 63-bit vector IDs. A
// per-variant manifest lists the published segments, and searchers query
// all of them concurrently and merge the results into one top-K list.
// Compaction merges small segments into larger shards, and reconciliation
// repairs a variant after an interrupted build.
//
// # Quick Start
//
//	cfg := vecshard.DefaultConfig()
//	cfg.Dim = 512
//
//	ix, err := vecshard.Open("./index", cfg,
//	    vecshard.WithLogger(vecshard.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ix.Close()
//
//	// Publish a batch of 100 vectors stored as little-endian float32.
//	res, err := ix.Build(ctx, vecshard.BuildRequest{
//	    EmbeddingPath: "batch.f32",
//	    Dim:           512,
//	    Count:         100,
//	    OwnerID:       "video-1",
//	})
//
//	// Query a snapshot of all published segments.
//	results, err := ix.Search(ctx, query, 10)
//
// # Variants
//
// A variant is one named index configuration below the root directory. Its
// dimension, metric and index type are fixed by the first published
// segment; opening it later with a different config fails builds with
// ErrConfigMismatch.
//
// # Backends
//
// The default "go" backend implements flat, IVF+PQ and HNSW indexes in pure
// Go. The "faiss" backend binds the FAISS C API when built with cgo and the
// faiss build tag. Without it the index opens in stub mode: builds fail with
// ErrBackendUnavailable and nothing is published.
//
// # Mirroring
//
// WithMirror copies every committed change to a blobstore.BlobStore (local
// directory, Amazon S3 or MinIO), segment files first and the manifest last,
// so a reader of the mirror never sees a manifest referencing missing files.
//
// # Background jobs
//
// *Index implements jobs.Executor. A jobs.Dispatcher runs builds and
// compactions with one serial lane per variant, retries transient failures
// and records completed jobs in a ledger so resubmissions are skipped.
package vecshard
