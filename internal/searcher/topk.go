package searcher

import (
	"slices"

	"github.com/hupe1980/vecshard/model"
)

// TopK keeps the k highest-scoring results seen so far in a bounded min-heap.
// The root is the weakest retained result; a newcomer replaces it only when
// its score is strictly greater.
type TopK struct {
	k     int
	items []model.Result
}

// NewTopK creates a collector for k results.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]model.Result, 0, max(k, 0))}
}

// Len returns the number of retained results.
func (t *TopK) Len() int { return len(t.items) }

// Offer considers r. Results with an invalid ID are ignored.
func (t *TopK) Offer(r model.Result) {
	if !r.ID.Valid() || t.k <= 0 {
		return
	}
	if len(t.items) < t.k {
		t.items = append(t.items, r)
		t.up(len(t.items) - 1)
		return
	}
	if r.Score > t.items[0].Score {
		t.items[0] = r
		t.down(0)
	}
}

// Min returns the weakest retained result.
func (t *TopK) Min() (model.Result, bool) {
	if len(t.items) == 0 {
		return model.Result{}, false
	}
	return t.items[0], true
}

// Results drains the collector and returns the results ordered by
// descending score. Equal scores are ordered by ascending ID.
func (t *TopK) Results() []model.Result {
	out := t.items
	t.items = nil
	slices.SortFunc(out, func(a, b model.Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (t *TopK) less(i, j int) bool { return t.items[i].Score < t.items[j].Score }

func (t *TopK) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !t.less(i, parent) {
			break
		}
		t.items[i], t.items[parent] = t.items[parent], t.items[i]
		i = parent
	}
}

func (t *TopK) down(i int) {
	n := len(t.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && t.less(right, left) {
			child = right
		}
		if !t.less(child, i) {
			break
		}
		t.items[i], t.items[child] = t.items[child], t.items[i]
		i = child
	}
}
