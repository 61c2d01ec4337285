package index

import (
	"container/heap"
	"sort"
)

// less orders neighbors by distance, then id
func less(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// worstFirst is a max-heap on (distance, id) so the root is the neighbor
// to evict next
type worstFirst []Neighbor

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return less(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// topK keeps the k best neighbors seen so far
type topK struct {
	k int
	h worstFirst
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(worstFirst, 0, k)}
}

func (t *topK) offer(n Neighbor) {
	if len(t.h) < t.k {
		heap.Push(&t.h, n)
		return
	}
	if less(n, t.h[0]) {
		t.h[0] = n
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the kept neighbors best first
func (t *topK) sorted() []Neighbor {
	out := make([]Neighbor, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
