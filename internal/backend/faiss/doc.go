// Package faiss binds the FAISS C API as an index backend.
//
// The binding is compiled only with cgo and the "faiss" build tag and
// links against libfaiss_c. Without them the backend is still registered
// under [Name], but loading it fails, so backend.Open returns a stub.
//
// Index types map onto FAISS factory strings:
//
//	flat-ip  IDMap,Flat
//	ivf-pq   IVF<nlist>,PQ<m>x<bits>
//	hnsw-ip  IDMap,HNSW<M>
package faiss
