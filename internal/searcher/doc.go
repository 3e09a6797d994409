// Package searcher provides the heaps used on the read path.
//
//   - [Heap]: distance-ordered min/max heap over candidate rows,
//     used while scanning a single index (graph traversal, list scans).
//   - [TopK]: bounded min-heap over similarity scores that merges per-shard
//     results into one global top-K.
package searcher
