// Package backend defines the contract between the index and an ANN library.
//
// A [Backend] creates and loads [Index] handles for the three index families
// of [model.IndexSpec]. Handles own native or in-memory resources and must be
// released exactly once; [Guard] enforces that on every exit path.
//
// Implementations register themselves by name ([Register]), similar to
// database/sql drivers. When a registered backend cannot be loaded, [Open]
// returns a stub backend instead of failing: it reports Available() == false,
// accepts building calls as no-ops, returns only empty results and refuses
// to read or write files. Callers must not treat stub output as valid.
package backend
