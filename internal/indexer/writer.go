// Package indexer implements the index writer, which buffers documents and
// turns them into published segments, and the snapshot reader the query
// engine evaluates against.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// Mode selects how Open treats an existing index.
type Mode int

const (
	// ModeCreate replaces any existing index in the directory.
	ModeCreate Mode = iota
	// ModeAppend adds to the existing index, creating it when absent.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Options tune a Writer. The zero value is usable.
type Options struct {
	Metrics *metrics.Metrics
}

// Document is a set of named field values.
type Document map[string]string

// Writer is the single writer of an index directory. It holds the directory
// lock from Open until Close.
type Writer struct {
	mu      sync.Mutex
	store   *store.Store
	lock    *store.WriteLock
	schema  schema.Schema
	meta    *store.Meta
	buffer  *index.MemoryIndex
	metrics *metrics.Metrics
	logger  *slog.Logger

	nextDocID     index.DocID
	nextSegmentID uint64
	poisoned      error
	closed        bool
}

// Open acquires the write lock of dir and prepares the index according to
// mode.
func Open(ctx context.Context, dir string, s schema.Schema, mode Mode, opts Options) (*Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	st := store.New(dir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	lock, err := store.AcquireWriteLock(dir)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		store:   st,
		lock:    lock,
		schema:  s,
		buffer:  index.NewMemoryIndex(),
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "index-writer", "dir", dir),
	}
	if err := w.prepare(mode); err != nil {
		lock.Release()
		return nil, err
	}
	w.nextDocID = w.meta.NextDocID
	w.nextSegmentID = w.meta.NextSegmentID
	w.observeMeta()
	w.logger.Info("index opened for write",
		"mode", mode.String(),
		"index_id", w.meta.IndexID,
		"generation", w.meta.Generation,
		"segments", len(w.meta.Segments),
		"docs", w.meta.DocCount(),
	)
	return w, nil
}

func (w *Writer) prepare(mode Mode) error {
	switch mode {
	case ModeCreate:
		meta := store.NewMeta(w.schema)
		if err := w.store.PublishMeta(meta); err != nil {
			return err
		}
		w.meta = meta
	case ModeAppend:
		meta, err := w.store.LoadMeta()
		switch {
		case err == nil:
			if !meta.Schema.Equal(w.schema) {
				return apperrors.Schema("schema does not match the existing index in %s", w.store.Dir())
			}
		case isNoIndex(err):
			meta = store.NewMeta(w.schema)
			if err := w.store.PublishMeta(meta); err != nil {
				return err
			}
		default:
			return err
		}
		w.meta = meta
	default:
		return fmt.Errorf("unknown open mode %d", mode)
	}
	if _, err := w.store.RemoveUnreferenced(w.meta); err != nil {
		return err
	}
	return nil
}

// AddDocument validates doc against the schema, assigns it the next id and
// buffers it. A document naming an undeclared field is rejected without
// consuming an id, and the pending batch can no longer be committed.
func (w *Writer) AddDocument(doc Document) (index.DocID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrClosed
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	indexed := make(map[string]string, len(names))
	stored := make(map[string]string, len(names))
	for _, name := range names {
		spec, ok := w.schema.Lookup(name)
		if !ok {
			err := apperrors.Schema("field %q is not declared in the index schema", name)
			if w.poisoned == nil {
				w.poisoned = err
			}
			return 0, err
		}
		if spec.Indexed {
			indexed[name] = doc[name]
		}
		if spec.Stored {
			stored[name] = doc[name]
		}
	}
	if w.nextDocID == math.MaxUint32 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusInsufficientStorage, "document id space exhausted")
	}

	id := w.nextDocID
	w.nextDocID++
	w.buffer.AddDocument(id, indexed, stored)
	if w.metrics != nil {
		w.metrics.DocsIndexedTotal.Inc()
	}
	return id, nil
}

// Commit writes the buffered documents as a new segment and publishes it.
// On failure the published index is unchanged and the buffer is discarded.
func (w *Writer) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrClosed
	}
	if w.poisoned != nil {
		err := w.poisoned
		discarded := w.buffer.DocCount()
		w.discard()
		w.countCommit("rejected")
		w.logger.Warn("commit rejected, pending batch discarded",
			"discarded_docs", discarded,
			"error", err,
		)
		return fmt.Errorf("commit rejected: %w", err)
	}
	if w.buffer.DocCount() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		w.discard()
		w.countCommit("error")
		return err
	}

	start := time.Now()
	batch := w.buffer.Snapshot()
	segID := w.nextSegmentID
	w.nextSegmentID++

	info, err := w.store.WriteSegment(segID, batch)
	if err != nil {
		w.discard()
		w.countCommit("error")
		return fmt.Errorf("committing %d documents: %w", len(batch.Docs), err)
	}

	next := w.meta.Clone()
	next.Segments = append(next.Segments, info)
	next.NextDocID = w.nextDocID
	next.NextSegmentID = w.nextSegmentID
	if err := w.store.PublishMeta(next); err != nil {
		if delErr := w.store.DeleteSegment(info); delErr != nil {
			w.logger.Error("removing unpublished segment", "segment", info.Dir, "error", delErr)
		}
		w.discard()
		w.countCommit("error")
		return fmt.Errorf("committing %d documents: %w", len(batch.Docs), err)
	}
	w.meta = next
	w.buffer.Reset()
	w.countCommit("success")
	w.observeMeta()
	w.logger.Info("segment committed",
		"segment", info.Dir,
		"docs", info.DocCount,
		"terms", info.TermCount,
		"bytes", info.SizeBytes,
		"generation", next.Generation,
		"live_segments", len(next.Segments),
		"duration", time.Since(start),
	)
	return nil
}

// ForceMerge rewrites every live segment into one. Buffered documents are
// not part of the merge.
func (w *Writer) ForceMerge(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrClosed
	}
	if len(w.meta.Segments) == 0 {
		return nil
	}

	start := time.Now()
	old := w.meta.Segments
	batch, err := w.mergeBatch(ctx, old)
	if err != nil {
		w.countMerge("error")
		return err
	}
	segID := w.nextSegmentID
	w.nextSegmentID++
	info, err := w.store.WriteSegment(segID, batch)
	if err != nil {
		w.countMerge("error")
		return fmt.Errorf("merging %d segments: %w", len(old), err)
	}

	next := w.meta.Clone()
	next.Segments = []store.SegmentInfo{info}
	next.NextSegmentID = w.nextSegmentID
	if err := w.store.PublishMeta(next); err != nil {
		if delErr := w.store.DeleteSegment(info); delErr != nil {
			w.logger.Error("removing unpublished segment", "segment", info.Dir, "error", delErr)
		}
		w.countMerge("error")
		return fmt.Errorf("merging %d segments: %w", len(old), err)
	}
	w.meta = next

	for _, seg := range old {
		if err := w.store.DeleteSegment(seg); err != nil {
			w.logger.Warn("deleting merged segment", "segment", seg.Dir, "error", err)
		}
	}
	w.countMerge("success")
	w.observeMeta()
	w.logger.Info("segments merged",
		"merged", len(old),
		"segment", info.Dir,
		"docs", info.DocCount,
		"terms", info.TermCount,
		"generation", next.Generation,
		"duration", time.Since(start),
	)
	return nil
}

// mergeBatch reads every segment back and unions the postings per term.
func (w *Writer) mergeBatch(ctx context.Context, segs []store.SegmentInfo) (index.Batch, error) {
	terms := make(map[index.TermKey]index.PostingList)
	var docs []index.StoredDoc
	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return index.Batch{}, err
		}
		r, err := w.store.ReadSegment(seg, 0)
		if err != nil {
			return index.Batch{}, err
		}
		err = r.ForEachTerm(func(field, term string, postings index.PostingList) error {
			key := index.TermKey{Field: field, Term: term}
			terms[key] = append(terms[key], postings...)
			return nil
		})
		if err == nil {
			var segDocs []index.StoredDoc
			segDocs, err = r.Docs()
			docs = append(docs, segDocs...)
		}
		r.Close()
		if err != nil {
			return index.Batch{}, fmt.Errorf("reading segment %s: %w", seg.Dir, err)
		}
	}

	entries := make([]index.TermEntry, 0, len(terms))
	for key, postings := range terms {
		sort.SliceStable(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, index.TermEntry{Field: key.Field, Term: key.Term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return index.TermKey{Field: entries[i].Field, Term: entries[i].Term}.Less(index.TermKey{Field: entries[j].Field, Term: entries[j].Term})
	})
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DocID < docs[j].DocID
	})
	return index.Batch{Terms: entries, Docs: docs}, nil
}

// Close releases the write lock. Buffered documents are discarded.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if n := w.buffer.DocCount(); n > 0 {
		w.logger.Warn("closing with uncommitted documents, discarding", "docs", n)
	}
	w.discard()
	w.closed = true
	return w.lock.Release()
}

func (w *Writer) discard() {
	w.buffer.Reset()
	w.poisoned = nil
}

// BufferedBytes estimates the memory held by uncommitted documents.
func (w *Writer) BufferedBytes() int64 {
	return w.buffer.Size()
}

func (w *Writer) BufferedDocs() int {
	return w.buffer.DocCount()
}

// Schema returns the schema documents are validated against.
func (w *Writer) Schema() schema.Schema {
	return w.schema
}

// Generation is the generation of the last metadata this writer published.
func (w *Writer) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta.Generation
}

// IndexID identifies the index across its generations.
func (w *Writer) IndexID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta.IndexID
}

// Segments returns the live segments of the last published metadata.
func (w *Writer) Segments() []store.SegmentInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]store.SegmentInfo(nil), w.meta.Segments...)
}

func (w *Writer) countCommit(status string) {
	if w.metrics != nil {
		w.metrics.IndexCommitsTotal.WithLabelValues(status).Inc()
	}
}

func (w *Writer) countMerge(status string) {
	if w.metrics != nil {
		w.metrics.IndexMergesTotal.WithLabelValues(status).Inc()
	}
}

func (w *Writer) observeMeta() {
	if w.metrics != nil {
		w.metrics.LiveSegments.Set(float64(len(w.meta.Segments)))
		w.metrics.IndexDocCount.Set(float64(w.meta.DocCount()))
	}
}
