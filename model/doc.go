// Package model defines the value types shared by every vecshard component.
//
// # Configuration
//
//   - IndexConfig: immutable per-variant configuration snapshot
//   - IndexSpec: tagged union over the supported index types (FlatIP, IVFPQ, HNSW)
//   - Metric: similarity metric (inner product or L2)
//
// # Identity Types
//
//   - VectorID: deterministic, non-negative 64-bit vector identifier
//   - Result: one (ID, Score) search hit, higher scores are better
//
// Configuration values are passed explicitly into constructors. A runtime
// change is modelled as a new IndexConfig with a higher Revision handed to
// new component instances; nothing is mutated in place.
package model
