// Package gonative is a pure-Go index backend registered as "go".
//
// It implements the three index families without native dependencies:
//
//   - flat: exhaustive scan over the stored vectors
//   - ivf-pq: k-means coarse quantizer with product-quantized inverted lists
//   - hnsw: graph index from internal/hnsw
//
// # File Format
//
//	Header (24 bytes, little endian):
//	  Magic            (4 bytes) - "VSHX"
//	  Version          (4 bytes) - format version (currently 1)
//	  Checksum         (4 bytes) - CRC32-IEEE of the stored payload
//	  UncompressedSize (4 bytes)
//	  CompressedSize   (4 bytes) - 0 means the payload is stored raw
//	  Reserved         (4 bytes)
//
//	Payload: msgpack-encoded index body, LZ4 block-compressed.
package gonative
