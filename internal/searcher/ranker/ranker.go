// Package ranker scores matches with a TF-IDF model whose statistics are
// global to a snapshot, so that the score of a document does not depend on
// how the index is split into segments.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
)

type ScoredDoc struct {
	DocID index.DocID `json:"doc_id"`
	Score float64     `json:"score"`
}

// Stats are the collection statistics of one term.
type Stats struct {
	TotalDocs int
	DocFreq   int
}

// IDF is 1 + ln((N+1)/(df+1)). It is positive for every df <= N.
func IDF(s Stats) float64 {
	return 1 + math.Log(float64(s.TotalDocs+1)/float64(s.DocFreq+1))
}

// TermScore is sqrt(freq) * idf / sqrt(fieldLength).
func TermScore(freq int, fieldLength int, idf float64) float64 {
	if freq <= 0 {
		return 0
	}
	if fieldLength <= 0 {
		fieldLength = 1
	}
	return math.Sqrt(float64(freq)) * idf / math.Sqrt(float64(fieldLength))
}

// Accumulator sums clause scores per document. Scores must be added in the
// same order for every evaluation to keep float sums reproducible.
type Accumulator struct {
	scores map[index.DocID]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{scores: make(map[index.DocID]float64)}
}

func (a *Accumulator) Add(docID index.DocID, score float64) {
	a.scores[docID] += score
}

func (a *Accumulator) Len() int {
	return len(a.scores)
}

// Results returns the accumulated documents in rank order.
func (a *Accumulator) Results() []ScoredDoc {
	result := make([]ScoredDoc, 0, len(a.scores))
	for docID, score := range a.scores {
		result = append(result, ScoredDoc{DocID: docID, Score: score})
	}
	Sort(result)
	return result
}

// Sort orders by descending score, then ascending document id.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		return Before(docs[i], docs[j])
	})
}

// Before reports whether a ranks ahead of b.
func Before(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}
