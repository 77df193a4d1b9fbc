// Package executor evaluates query plans against an index snapshot and
// resolves the stored fields of the ranked documents.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/tracing"
)

// Hit is a ranked document with its stored fields.
type Hit struct {
	DocID  index.DocID       `json:"doc_id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields"`
}

// HitError reports a ranked document whose stored fields could not be read.
type HitError struct {
	DocID index.DocID `json:"doc_id"`
	Error string      `json:"error"`
}

type SearchResult struct {
	Query      string         `json:"query"`
	TotalHits  int            `json:"total_hits"`
	Results    []Hit          `json:"results"`
	Errors     []HitError     `json:"errors,omitempty"`
	TermStats  map[string]int `json:"term_stats"`
	Generation uint64         `json:"generation"`
}

// Options tune an Executor. The zero value is usable.
type Options struct {
	// Timeout bounds one evaluation; zero means no limit.
	Timeout time.Duration
}

// Executor runs queries against the current snapshot. The snapshot can be
// replaced while queries are in flight.
type Executor struct {
	current atomic.Pointer[indexer.Snapshot]
	opts    Options
	logger  *slog.Logger
}

func New(snap *indexer.Snapshot, opts Options) *Executor {
	e := &Executor{
		opts:   opts,
		logger: slog.Default().With("component", "query-executor"),
	}
	e.current.Store(snap)
	return e
}

// Snapshot returns the snapshot new queries are evaluated against.
func (e *Executor) Snapshot() *indexer.Snapshot {
	return e.current.Load()
}

// Swap installs snap and returns the previous snapshot, which the caller
// must close.
func (e *Executor) Swap(snap *indexer.Snapshot) *indexer.Snapshot {
	return e.current.Swap(snap)
}

// acquire pins the current snapshot. A snapshot closed by a concurrent Swap
// is skipped in favour of its replacement.
func (e *Executor) acquire() (*indexer.Snapshot, error) {
	for {
		snap := e.current.Load()
		err := snap.Acquire()
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, apperrors.ErrClosed) || e.current.Load() == snap {
			return nil, err
		}
	}
}

// Evaluate returns the best topN documents of plan in rank order. A topN of
// zero or less returns every match.
func (e *Executor) Evaluate(ctx context.Context, plan *parser.QueryPlan, topN int) ([]ranker.ScoredDoc, error) {
	snap, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	ev, err := e.evaluate(ctx, snap, plan, topN)
	if err != nil {
		return nil, err
	}
	return ev.docs, nil
}

// Execute evaluates plan and resolves the stored fields of the returned
// documents. A document that cannot be resolved is reported in Errors and
// does not fail the query.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	ctx, span := tracing.StartChildSpan(ctx, "execute")
	defer span.End()

	snap, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	result := &SearchResult{
		Query:      plan.RawQuery,
		Results:    []Hit{},
		TermStats:  map[string]int{},
		Generation: snap.Generation(),
	}
	if plan.Empty() {
		return result, nil
	}

	ev, err := e.evaluate(ctx, snap, plan, limit)
	if err != nil {
		return nil, err
	}
	result.TotalHits = ev.totalHits
	result.TermStats = ev.termStats

	_, resolveSpan := tracing.StartChildSpan(ctx, "resolve")
	for _, doc := range ev.docs {
		fields, err := snap.FetchStoredFields(doc.DocID)
		if err != nil {
			logger.FromContext(ctx).Warn("stored fields unavailable", "doc_id", doc.DocID, "error", err)
			result.Errors = append(result.Errors, HitError{DocID: doc.DocID, Error: err.Error()})
			continue
		}
		result.Results = append(result.Results, Hit{DocID: doc.DocID, Score: doc.Score, Fields: fields})
	}
	resolveSpan.SetAttr("resolved", len(result.Results))
	resolveSpan.End()

	logger.FromContext(ctx).Debug("query executed",
		"query", plan.RawQuery,
		"plan", plan.String(),
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"generation", result.Generation,
	)
	return result, nil
}

type evaluation struct {
	docs      []ranker.ScoredDoc
	totalHits int
	termStats map[string]int
}

func (e *Executor) evaluate(ctx context.Context, snap *indexer.Snapshot, plan *parser.QueryPlan, topN int) (*evaluation, error) {
	ctx, span := tracing.StartChildSpan(ctx, "evaluate")
	defer span.End()

	ev := &evaluation{docs: []ranker.ScoredDoc{}, termStats: map[string]int{}}
	if plan.Empty() || snap.DocCount() == 0 {
		return ev, nil
	}

	total := snap.DocCount()
	idf := make(map[index.TermKey]float64)
	for _, t := range plan.Terms() {
		key := index.TermKey{Field: t.Field, Term: t.Terms[0]}
		df := snap.DocFreq(key.Field, key.Term)
		idf[key] = ranker.IDF(ranker.Stats{TotalDocs: total, DocFreq: df})
		ev.termStats[key.Field+":"+key.Term] = df
	}

	segments := snap.Segments()
	perSegment := make([][]ranker.ScoredDoc, len(segments))
	hits := make([]int, len(segments))
	err := resilience.WithTimeout(ctx, e.opts.Timeout, "query evaluation", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for i, seg := range segments {
			g.Go(func() error {
				acc, err := scoreSegment(gctx, seg, plan, idf)
				if err != nil {
					return fmt.Errorf("segment %s: %w", seg.Info.Dir, err)
				}
				hits[i] = acc.Len()
				docs := acc.Results()
				if topN > 0 && len(docs) > topN {
					docs = docs[:topN]
				}
				perSegment[i] = docs
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	for _, n := range hits {
		ev.totalHits += n
	}
	ev.docs = merger.Merge(perSegment, topN)
	span.SetAttr("segments", len(segments))
	span.SetAttr("total_hits", ev.totalHits)
	return ev, nil
}

// Stats summarises the current snapshot.
func (e *Executor) Stats() (indexer.Stats, error) {
	snap, err := e.acquire()
	if err != nil {
		return indexer.Stats{}, err
	}
	defer snap.Release()
	return snap.Stats()
}
