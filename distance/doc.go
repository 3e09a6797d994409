// Package distance holds the vector kernels shared by builds, searches and
// training: dot products, squared L2 distance and in-place row
// normalization for inner-product variants.
package distance
