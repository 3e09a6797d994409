package model

import "fmt"

// VectorID identifies one indexed row. Valid IDs are never negative.
type VectorID int64

// NoID is the label backends return for an empty result slot.
const NoID VectorID = -1

// Valid reports whether id denotes an actual search hit.
func (id VectorID) Valid() bool { return id >= 0 }

// Result is a single search hit. Scores are similarities: higher is better.
type Result struct {
	ID    VectorID `json:"id"`
	Score float32  `json:"score"`
}

// String returns a string representation of the Result.
func (r Result) String() string {
	return fmt.Sprintf("Result(%d, %.6f)", r.ID, r.Score)
}
