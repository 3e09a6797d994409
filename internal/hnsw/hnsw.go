package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/searcher"
)

// maxLevelCap bounds the generated node level.
const maxLevelCap = 16

// ErrDimensionMismatch is returned for vectors of the wrong length.
var ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")

// Config configures graph construction.
type Config struct {
	M              int
	EfConstruction int
	Seed           int64
}

// Graph is an HNSW graph over vectors stored contiguously.
type Graph struct {
	dim   int
	dist  distance.Func
	cfg   Config
	mmax  int     // max connections on layers > 0
	mmax0 int     // max connections on layer 0
	ml    float64 // level normalization factor
	rng   *rand.Rand

	vectors  []float32
	levels   []int32
	links    [][][]uint32 // links[node][level]
	entry    int32        // -1 while empty
	maxLevel int
}

// New creates an empty graph. dist must return smaller values for closer vectors.
func New(dim int, dist distance.Func, cfg Config) *Graph {
	if cfg.M < 2 {
		// M == 1 would divide by zero in the level factor.
		cfg.M = 2
	}
	if cfg.EfConstruction < cfg.M {
		cfg.EfConstruction = cfg.M
	}
	return &Graph{
		dim:   dim,
		dist:  dist,
		cfg:   cfg,
		mmax:  cfg.M,
		mmax0: 2 * cfg.M,
		ml:    1 / math.Log(float64(cfg.M)),
		rng:   rand.New(rand.NewSource(cfg.Seed)), // nolint gosec
		entry: -1,
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.levels) }

// Dim returns the vector dimension.
func (g *Graph) Dim() int { return g.dim }

// Vector returns the stored vector of node id.
func (g *Graph) Vector(id uint32) []float32 {
	off := int(id) * g.dim
	return g.vectors[off : off+g.dim]
}

func (g *Graph) randomLevel() int {
	level := int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
	return min(level, maxLevelCap)
}

func (g *Graph) maxConn(level int) int {
	if level == 0 {
		return g.mmax0
	}
	return g.mmax
}

// Insert adds vec to the graph and returns its node id.
func (g *Graph) Insert(vec []float32) (uint32, error) {
	if len(vec) != g.dim {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.dim, len(vec))
	}

	id := uint32(len(g.levels))
	level := g.randomLevel()
	g.vectors = append(g.vectors, vec...)
	g.levels = append(g.levels, int32(level))
	g.links = append(g.links, make([][]uint32, level+1))

	if g.entry < 0 {
		g.entry = int32(id)
		g.maxLevel = level
		return id, nil
	}

	ep := searcher.Candidate{Row: uint32(g.entry), Dist: g.dist(vec, g.Vector(uint32(g.entry)))}
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(vec, ep, l)
	}

	entries := []searcher.Candidate{ep}
	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(vec, entries, g.cfg.EfConstruction, l)
		neighbours := g.selectNeighbours(candidates, g.cfg.M)

		g.links[id][l] = make([]uint32, len(neighbours))
		for i, n := range neighbours {
			g.links[id][l][i] = n.Row
		}
		for _, n := range neighbours {
			g.link(n.Row, id, l)
		}
		entries = candidates
	}

	if level > g.maxLevel {
		g.entry = int32(id)
		g.maxLevel = level
	}
	return id, nil
}

// greedy walks layer level towards q, starting at ep.
func (g *Graph) greedy(q []float32, ep searcher.Candidate, level int) searcher.Candidate {
	for changed := true; changed; {
		changed = false
		for _, n := range g.links[ep.Row][level] {
			if d := g.dist(q, g.Vector(n)); d < ep.Dist {
				ep = searcher.Candidate{Row: n, Dist: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef nodes of layer level closest to q, ordered
// by ascending distance.
func (g *Graph) searchLayer(q []float32, entries []searcher.Candidate, ef, level int) []searcher.Candidate {
	visited := bitset.New(uint(g.Len()))
	candidates := searcher.NewMinHeap() // closest first
	results := searcher.NewMaxHeap()    // farthest first

	for _, e := range entries {
		if visited.Test(uint(e.Row)) {
			continue
		}
		visited.Set(uint(e.Row))
		candidates.Push(e)
		results.PushBounded(e, ef)
	}

	for candidates.Len() > 0 {
		c, _ := candidates.Pop()
		worst, _ := results.Peek()
		if c.Dist > worst.Dist && results.Len() >= ef {
			break
		}
		if int(g.levels[c.Row]) < level {
			continue
		}
		for _, n := range g.links[c.Row][level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := g.dist(q, g.Vector(n))
			worst, _ = results.Peek()
			if results.Len() < ef || d < worst.Dist {
				item := searcher.Candidate{Row: n, Dist: d}
				candidates.Push(item)
				results.PushBounded(item, ef)
			}
		}
	}
	return results.Drain()
}

// selectNeighbours applies the diversity heuristic to candidates sorted by
// ascending distance and returns at most m of them. Pruned candidates fill
// up the result when too few survive.
func (g *Graph) selectNeighbours(candidates []searcher.Candidate, m int) []searcher.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	selected := make([]searcher.Candidate, 0, m)
	var pruned []searcher.Candidate
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if g.dist(g.Vector(c.Row), g.Vector(s.Row)) < c.Dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, p := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, p)
	}
	return selected
}

// link adds the edge from -> to on level and prunes from's list when it
// exceeds the layer's degree.
func (g *Graph) link(from, to uint32, level int) {
	conns := append(g.links[from][level], to)
	limit := g.maxConn(level)
	if len(conns) <= limit {
		g.links[from][level] = conns
		return
	}

	base := g.Vector(from)
	items := make([]searcher.Candidate, len(conns))
	for i, n := range conns {
		items[i] = searcher.Candidate{Row: n, Dist: g.dist(base, g.Vector(n))}
	}
	slices.SortStableFunc(items, func(a, b searcher.Candidate) int {
		switch {
		case a.Dist < b.Dist:
			return -1
		case a.Dist > b.Dist:
			return 1
		default:
			return 0
		}
	})

	kept := g.selectNeighbours(items, limit)
	out := make([]uint32, len(kept))
	for i, k := range kept {
		out[i] = k.Row
	}
	g.links[from][level] = out
}

// Search returns up to k nodes closest to query, ordered by ascending
// distance. ef is raised to k when smaller.
func (g *Graph) Search(query []float32, k, ef int) ([]searcher.Candidate, error) {
	if len(query) != g.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.dim, len(query))
	}
	if g.entry < 0 || k <= 0 {
		return nil, nil
	}
	ef = max(ef, k)

	ep := searcher.Candidate{Row: uint32(g.entry), Dist: g.dist(query, g.Vector(uint32(g.entry)))}
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedy(query, ep, l)
	}
	found := g.searchLayer(query, []searcher.Candidate{ep}, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}
