// Package hnsw builds and searches the proximity graphs behind hnsw-ip
// segments.
//
// A Graph is built once, when its segment is staged, and is read-only
// afterwards; searches need no locking. Layer 0 keeps up to 2*M links per
// node, upper layers M. The ef passed to Search widens the candidate list
// and is taken from the segment's efS parameter.
//
// See Malkov and Yashunin, "Efficient and robust approximate nearest
// neighbor search using Hierarchical Navigable Small World graphs" (2018).
package hnsw
