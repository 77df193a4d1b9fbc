// Package loader bulk-loads records from a Source into an index writer,
// committing a segment whenever the buffered documents reach the configured
// size.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

// IndexWriter is the part of indexer.Writer the loader drives.
type IndexWriter interface {
	AddDocument(doc indexer.Document) (index.DocID, error)
	Commit(ctx context.Context) error
	ForceMerge(ctx context.Context) error
	BufferedBytes() int64
	BufferedDocs() int
}

// Derived builds one document field from record values joined by Separator.
// With no Columns every value of the record is used.
type Derived struct {
	Name      string
	Columns   []string
	Separator string
}

type Options struct {
	// SegmentMaxSize triggers a commit once the buffered documents reach it.
	SegmentMaxSize int64
	ForceMerge     bool
	// Derived, when set, replaces column passthrough: documents consist of
	// the derived fields only.
	Derived []Derived
	// Progress, if set, is called after every commit.
	Progress func(Stats)
}

// FromConfig converts the loader and index sections of cfg.
func FromConfig(cfg *config.Config) Options {
	opts := Options{
		SegmentMaxSize: cfg.Index.SegmentMaxSize,
		ForceMerge:     cfg.Loader.ForceMerge,
	}
	for _, d := range cfg.Loader.Derived {
		opts.Derived = append(opts.Derived, Derived{Name: d.Name, Columns: d.Columns, Separator: d.Separator})
	}
	return opts
}

type Stats struct {
	Records    int           `json:"records"`
	Commits    int           `json:"commits"`
	FirstDocID index.DocID   `json:"first_doc_id"`
	LastDocID  index.DocID   `json:"last_doc_id"`
	Merged     bool          `json:"merged"`
	Duration   time.Duration `json:"duration"`
}

type Loader struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Loader {
	return &Loader{
		opts:   opts,
		logger: slog.Default().With("component", "loader"),
	}
}

// Load reads src to the end. A failing record stops the load; documents of
// earlier commits stay published.
func (l *Loader) Load(ctx context.Context, src Source, w IndexWriter) (Stats, error) {
	start := time.Now()
	var stats Stats
	log := l.logger.With("source", src.Name())
	log.Info("load started", "segment_max_size", l.opts.SegmentMaxSize, "derived_fields", len(l.opts.Derived))

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Records++

		id, err := w.AddDocument(l.document(rec))
		if err != nil {
			return stats, fmt.Errorf("record %d: %w", stats.Records, err)
		}
		if stats.FirstDocID == 0 {
			stats.FirstDocID = id
		}
		stats.LastDocID = id

		if l.opts.SegmentMaxSize > 0 && w.BufferedBytes() >= l.opts.SegmentMaxSize {
			if err := l.commit(ctx, w, &stats); err != nil {
				return stats, err
			}
		}
	}

	if err := l.commit(ctx, w, &stats); err != nil {
		return stats, err
	}
	if l.opts.ForceMerge {
		if err := w.ForceMerge(ctx); err != nil {
			return stats, err
		}
		stats.Merged = true
	}
	stats.Duration = time.Since(start)
	log.Info("load finished",
		"records", stats.Records,
		"commits", stats.Commits,
		"merged", stats.Merged,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (l *Loader) commit(ctx context.Context, w IndexWriter, stats *Stats) error {
	if w.BufferedDocs() == 0 {
		return nil
	}
	if err := w.Commit(ctx); err != nil {
		return err
	}
	stats.Commits++
	if l.opts.Progress != nil {
		l.opts.Progress(*stats)
	}
	return nil
}

func (l *Loader) document(rec Record) indexer.Document {
	if len(l.opts.Derived) == 0 {
		doc := make(indexer.Document, len(rec.Columns))
		for i, col := range rec.Columns {
			doc[col] = rec.Values[i]
		}
		return doc
	}
	doc := make(indexer.Document, len(l.opts.Derived))
	for _, d := range l.opts.Derived {
		doc[d.Name] = d.join(rec)
	}
	return doc
}

func (d Derived) join(rec Record) string {
	if len(d.Columns) == 0 {
		return strings.Join(rec.Values, d.Separator)
	}
	parts := make([]string, 0, len(d.Columns))
	for _, want := range d.Columns {
		for i, col := range rec.Columns {
			if col == want {
				parts = append(parts, rec.Values[i])
				break
			}
		}
	}
	return strings.Join(parts, d.Separator)
}
