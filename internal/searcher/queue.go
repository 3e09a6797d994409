package searcher

// Candidate is a row of an index with its distance to the query. Smaller
// distances are better.
type Candidate struct {
	Row  uint32
	Dist float32
}

// Heap is a binary heap of candidates. A min heap yields the closest
// candidate first, a max heap the farthest.
type Heap struct {
	farthestFirst bool
	items         []Candidate
}

// NewMinHeap returns a heap that pops the closest candidate first.
func NewMinHeap() *Heap {
	return &Heap{items: make([]Candidate, 0, 16)}
}

// NewMaxHeap returns a heap that pops the farthest candidate first. Bounded
// with PushBounded it retains the nearest candidates seen.
func NewMaxHeap() *Heap {
	return &Heap{farthestFirst: true, items: make([]Candidate, 0, 16)}
}

// Len returns the number of candidates held.
func (h *Heap) Len() int { return len(h.items) }

// Reset empties the heap and keeps its storage.
func (h *Heap) Reset() { h.items = h.items[:0] }

// Peek returns the root without removing it.
func (h *Heap) Peek() (Candidate, bool) {
	if len(h.items) == 0 {
		return Candidate{}, false
	}
	return h.items[0], true
}

// Push adds c.
func (h *Heap) Push(c Candidate) {
	h.items = append(h.items, c)
	h.up(len(h.items) - 1)
}

// PushBounded adds c to a heap holding at most capacity candidates. When
// full, c replaces the root only if the root would pop before it.
func (h *Heap) PushBounded(c Candidate, capacity int) {
	if capacity <= 0 {
		return
	}
	if len(h.items) < capacity {
		h.Push(c)
		return
	}
	if h.before(h.items[0], c) {
		h.items[0] = c
		h.down(0)
	}
}

// Pop removes and returns the root.
func (h *Heap) Pop() (Candidate, bool) {
	n := len(h.items)
	if n == 0 {
		return Candidate{}, false
	}
	root := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.down(0)
	}
	return root, true
}

// Drain empties the heap. The result is in reverse pop order, so a max heap
// drains nearest first and a min heap farthest first.
func (h *Heap) Drain() []Candidate {
	out := make([]Candidate, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = h.Pop()
	}
	return out
}

// before reports whether a pops before b.
func (h *Heap) before(a, b Candidate) bool {
	if h.farthestFirst {
		return a.Dist > b.Dist
	}
	return a.Dist < b.Dist
}

func (h *Heap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.before(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap) down(i int) {
	n := len(h.items)
	for {
		child := 2*i + 1
		if child >= n {
			return
		}
		if r := child + 1; r < n && h.before(h.items[r], h.items[child]) {
			child = r
		}
		if !h.before(h.items[child], h.items[i]) {
			return
		}
		h.items[i], h.items[child] = h.items[child], h.items[i]
		i = child
	}
}
