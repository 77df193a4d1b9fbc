// Package merger combines the rankings of several segments into one.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/ranker"
)

// Merge k-way merges lists, each already in rank order, and returns the best
// limit documents. A limit of zero or less keeps every document. Segments
// hold disjoint document ids, so no document appears twice.
func Merge(lists [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	total := 0
	h := make(cursors, 0, len(lists))
	for _, l := range lists {
		if len(l) > 0 {
			h = append(h, l)
			total += len(l)
		}
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	heap.Init(&h)

	out := make([]ranker.ScoredDoc, 0, limit)
	for len(out) < limit {
		out = append(out, h[0][0])
		if h[0] = h[0][1:]; len(h[0]) == 0 {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}

// cursors is a heap of the unconsumed tails of the lists, ordered by their
// head document.
type cursors [][]ranker.ScoredDoc

func (c cursors) Len() int           { return len(c) }
func (c cursors) Less(i, j int) bool { return ranker.Before(c[i][0], c[j][0]) }
func (c cursors) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }
func (c *cursors) Push(x any)        { *c = append(*c, x.([]ranker.ScoredDoc)) }

func (c *cursors) Pop() any {
	old := *c
	last := old[len(old)-1]
	*c = old[:len(old)-1]
	return last
}
