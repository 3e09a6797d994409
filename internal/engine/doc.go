// Package engine implements the segment pipeline of one index variant.
//
// The engine orchestrates:
//   - Builder: normalize, train once, insert with deterministic IDs, stage,
//     publish and append to the manifest
//   - Searcher: open every segment of a manifest snapshot and merge the
//     per-segment top-K into one global top-K
//   - Compactor: merge small segments into shards from retained raw vectors
//   - Reconcile: clear staging and repair segments published without a
//     manifest entry
//
// All components share a [Variant], which binds an immutable
// model.IndexConfig to its on-disk layout, manifest store and backend.
package engine
