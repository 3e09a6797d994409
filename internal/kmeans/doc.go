// Package kmeans clusters training rows for the IVF coarse quantizer and
// the product quantizer codebooks.
package kmeans
