// Package quantization implements product quantization (PQ).
//
// PQ splits a vector into M subvectors and replaces each with the index of
// its nearest centroid in a per-subspace codebook of K = 2^bits entries.
// Queries stay in full precision and are compared to codes through a
// per-query lookup table (asymmetric distance computation, ADC).
package quantization
