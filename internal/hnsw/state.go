package hnsw

import (
	"fmt"

	"github.com/hupe1980/vecshard/distance"
)

// State is the serializable form of a Graph.
type State struct {
	Dim      int          `msgpack:"dim"`
	Config   Config       `msgpack:"config"`
	Vectors  []float32    `msgpack:"vectors"`
	Levels   []int32      `msgpack:"levels"`
	Links    [][][]uint32 `msgpack:"links"`
	Entry    int32        `msgpack:"entry"`
	MaxLevel int          `msgpack:"max_level"`
}

// Export returns the graph state. The returned slices alias the graph.
func (g *Graph) Export() State {
	return State{
		Dim:      g.dim,
		Config:   g.cfg,
		Vectors:  g.vectors,
		Levels:   g.levels,
		Links:    g.links,
		Entry:    g.entry,
		MaxLevel: g.maxLevel,
	}
}

// Import rebuilds a graph from s, validating its shape.
func Import(s State, dist distance.Func) (*Graph, error) {
	n := len(s.Levels)
	if s.Dim <= 0 || len(s.Vectors) != n*s.Dim || len(s.Links) != n {
		return nil, fmt.Errorf("hnsw: inconsistent state: dim=%d nodes=%d vectors=%d links=%d", s.Dim, n, len(s.Vectors), len(s.Links))
	}
	if (n == 0) != (s.Entry < 0) || int(s.Entry) >= n {
		return nil, fmt.Errorf("hnsw: invalid entry point %d for %d nodes", s.Entry, n)
	}
	for id, lv := range s.Links {
		if len(lv) != int(s.Levels[id])+1 {
			return nil, fmt.Errorf("hnsw: node %d has %d link levels, want %d", id, len(lv), s.Levels[id]+1)
		}
		for _, conns := range lv {
			for _, c := range conns {
				if int(c) >= n {
					return nil, fmt.Errorf("hnsw: node %d links to unknown node %d", id, c)
				}
			}
		}
	}

	g := New(s.Dim, dist, s.Config)
	// Continue the level sequence rather than replaying it.
	g.rng.Seed(s.Config.Seed + int64(n))
	g.vectors = s.Vectors
	g.levels = s.Levels
	g.links = s.Links
	g.entry = s.Entry
	g.maxLevel = s.MaxLevel
	return g, nil
}
