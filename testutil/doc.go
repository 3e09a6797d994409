// Package testutil provides testing utilities for vecshard.
//
// This package is intended for use in tests only. It generates
// deterministic row-major embedding buffers, writes them in the
// little-endian float32 layout the builder consumes, and computes exact
// top-K results for recall checks.
//
//	rng := testutil.NewRNG(seed)
//	rows := rng.UnitRows(100, 64)
//	path := testutil.WriteBuffer(t, dir, "emb.f32", rows)
//	truth := testutil.ExactTopK(rows, 64, query, 10, ids)
package testutil
