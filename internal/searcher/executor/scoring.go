package executor

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/ranker"
)

// scoreSegment scores every clause of plan on one segment. Clauses are
// visited in plan order so per-document sums are reproducible.
func scoreSegment(ctx context.Context, seg indexer.Segment, plan *parser.QueryPlan, idf map[index.TermKey]float64) (*ranker.Accumulator, error) {
	acc := ranker.NewAccumulator()
	for _, clause := range plan.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if clause.IsPhrase() {
			err = scorePhrase(seg, clause, idf, acc)
		} else {
			err = scoreTerm(seg, clause, idf, acc)
		}
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func scoreTerm(seg indexer.Segment, clause parser.Clause, idf map[index.TermKey]float64, acc *ranker.Accumulator) error {
	key := index.TermKey{Field: clause.Field, Term: clause.Terms[0]}
	postings, err := seg.Reader.Search(key.Field, key.Term)
	if err != nil {
		return err
	}
	for _, p := range postings {
		length := seg.Reader.FieldLength(p.DocID, key.Field)
		acc.Add(p.DocID, ranker.TermScore(p.Frequency, length, idf[key]))
	}
	return nil
}

// scorePhrase intersects the documents of every phrase term and keeps those
// where the terms occur at consecutive positions.
func scorePhrase(seg indexer.Segment, clause parser.Clause, idf map[index.TermKey]float64, acc *ranker.Accumulator) error {
	lists := make([]index.PostingList, len(clause.Terms))
	var candidates *roaring.Bitmap
	for i, term := range clause.Terms {
		postings, err := seg.Reader.Search(clause.Field, term)
		if err != nil {
			return err
		}
		if len(postings) == 0 {
			return nil
		}
		lists[i] = postings
		docs := roaring.New()
		for _, p := range postings {
			docs.Add(uint32(p.DocID))
		}
		if candidates == nil {
			candidates = docs
		} else {
			candidates.And(docs)
		}
		if candidates.IsEmpty() {
			return nil
		}
	}

	it := candidates.Iterator()
	matched := make([]index.Posting, len(lists))
	for it.HasNext() {
		docID := index.DocID(it.Next())
		for i, list := range lists {
			matched[i] = find(list, docID)
		}
		if !consecutive(matched) {
			continue
		}
		length := seg.Reader.FieldLength(docID, clause.Field)
		score := 0.0
		for i, term := range clause.Terms {
			score += ranker.TermScore(matched[i].Frequency, length, idf[index.TermKey{Field: clause.Field, Term: term}])
		}
		acc.Add(docID, score)
	}
	return nil
}

// find returns the posting of docID, which must be present in list.
func find(list index.PostingList, docID index.DocID) index.Posting {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].DocID >= docID
	})
	return list[i]
}

// consecutive reports whether some position p of the first posting has p+i
// in the i-th posting for every i.
func consecutive(postings []index.Posting) bool {
	for _, start := range postings[0].Positions {
		ok := true
		for i := 1; i < len(postings); i++ {
			want := start + i
			positions := postings[i].Positions
			j := sort.SearchInts(positions, want)
			if j >= len(positions) || positions[j] != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
