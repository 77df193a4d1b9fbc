package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

// SnapshotOptions tune OpenSnapshot. The zero value is usable.
type SnapshotOptions struct {
	// PostingsCacheSize bounds the decoded postings lists cached per segment.
	PostingsCacheSize int
	// OpenAttempts bounds the retries when a listed segment disappears
	// while the snapshot is being opened.
	OpenAttempts int
}

// Segment is one live segment of a snapshot.
type Segment struct {
	Info   store.SegmentInfo
	Reader *segment.Reader
}

// Snapshot is a read-only view of the index as published by one metadata
// generation. It takes no lock: segment files stay readable through the open
// descriptors even after a merge deletes them.
type Snapshot struct {
	mu       sync.Mutex
	dir      string
	meta     *store.Meta
	segments []Segment
	docCount int
	refs     int
	closed   bool
	openedAt time.Time
}

// OpenSnapshot opens every segment listed by the current metadata of dir.
func OpenSnapshot(ctx context.Context, dir string, opts SnapshotOptions) (*Snapshot, error) {
	st := store.New(dir)
	logger := slog.Default().With("component", "snapshot", "dir", dir)

	var snap *Snapshot
	err := resilience.Retry(ctx, "open snapshot", resilience.RetryConfig{
		MaxAttempts:  opts.OpenAttempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Retryable:    isVanishedSegment,
	}, func() error {
		var err error
		snap, err = openSnapshot(st, opts.PostingsCacheSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("snapshot opened",
		"generation", snap.meta.Generation,
		"segments", len(snap.segments),
		"docs", snap.docCount,
	)
	return snap, nil
}

func openSnapshot(st *store.Store, cacheSize int) (*Snapshot, error) {
	meta, err := st.LoadMeta()
	if err != nil {
		return nil, err
	}
	segments := make([]Segment, 0, len(meta.Segments))
	docCount := 0
	for _, info := range meta.Segments {
		r, err := st.ReadSegment(info, cacheSize)
		if err != nil {
			for _, opened := range segments {
				opened.Reader.Close()
			}
			return nil, err
		}
		segments = append(segments, Segment{Info: info, Reader: r})
		docCount += r.DocCount()
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Info.MinDocID < segments[j].Info.MinDocID
	})
	return &Snapshot{
		dir:      st.Dir(),
		meta:     meta,
		segments: segments,
		docCount: docCount,
		openedAt: time.Now(),
	}, nil
}

// isVanishedSegment reports a segment deleted by a concurrent merge between
// reading the metadata and opening its files.
func isVanishedSegment(err error) bool {
	return errors.Is(err, fs.ErrNotExist) && !isNoIndex(err)
}

func isNoIndex(err error) bool {
	return errors.Is(err, store.ErrNoIndex)
}

// Acquire pins the snapshot's segment files until the matching Release.
func (s *Snapshot) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.ErrClosed
	}
	s.refs++
	return nil
}

func (s *Snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.closed && s.refs == 0 {
		s.closeSegments()
	}
}

// Close marks the snapshot closed. The segment files are closed once the
// last Acquire is released.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.refs == 0 {
		return s.closeSegments()
	}
	return nil
}

func (s *Snapshot) closeSegments() error {
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.Reader.Close(); err != nil && firstErr == nil {
			firstErr = apperrors.IO("closing segment", seg.Reader.Dir(), err)
		}
	}
	return firstErr
}

// Segments returns the live segments ordered by their first document id.
func (s *Snapshot) Segments() []Segment {
	return s.segments
}

func (s *Snapshot) Schema() schema.Schema {
	return s.meta.Schema
}

func (s *Snapshot) Generation() uint64 {
	return s.meta.Generation
}

func (s *Snapshot) IndexID() string {
	return s.meta.IndexID
}

func (s *Snapshot) Dir() string {
	return s.dir
}

// DocCount is the number of documents across all segments.
func (s *Snapshot) DocCount() int {
	return s.docCount
}

// DocFreq is the number of documents across all segments containing term
// in field.
func (s *Snapshot) DocFreq(field, term string) int {
	df := 0
	for _, seg := range s.segments {
		df += seg.Reader.DocFreq(field, term)
	}
	return df
}

// FetchStoredFields returns the stored values of docID.
func (s *Snapshot) FetchStoredFields(docID index.DocID) (map[string]string, error) {
	if err := s.Acquire(); err != nil {
		return nil, err
	}
	defer s.Release()
	for _, seg := range s.segments {
		if docID < seg.Info.MinDocID || docID > seg.Info.MaxDocID {
			continue
		}
		fields, ok, err := seg.Reader.Document(docID)
		if err != nil {
			return nil, apperrors.IO("reading stored fields", seg.Reader.Dir(), err)
		}
		if ok {
			return fields, nil
		}
	}
	return nil, apperrors.NotFound("document %d is not in the index", docID)
}

// SegmentStats describes one segment for reporting.
type SegmentStats struct {
	ID        uint64    `json:"id"`
	Dir       string    `json:"dir"`
	Docs      int       `json:"docs"`
	Terms     int       `json:"terms"`
	MinDocID  uint32    `json:"min_doc_id"`
	MaxDocID  uint32    `json:"max_doc_id"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarises a snapshot.
type Stats struct {
	IndexID    string         `json:"index_id"`
	Generation uint64         `json:"generation"`
	Docs       int            `json:"docs"`
	SizeBytes  int64          `json:"size_bytes"`
	Fields     []string       `json:"fields"`
	Segments   []SegmentStats `json:"segments"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (s *Snapshot) Stats() (Stats, error) {
	if err := s.Acquire(); err != nil {
		return Stats{}, err
	}
	defer s.Release()
	stats := Stats{
		IndexID:    s.meta.IndexID,
		Generation: s.meta.Generation,
		Docs:       s.docCount,
		UpdatedAt:  s.meta.UpdatedAt,
		Segments:   make([]SegmentStats, 0, len(s.segments)),
	}
	for _, f := range s.meta.Schema.Fields {
		stats.Fields = append(stats.Fields, f.Name)
	}
	for _, seg := range s.segments {
		stats.SizeBytes += seg.Info.SizeBytes
		stats.Segments = append(stats.Segments, SegmentStats{
			ID:        seg.Info.ID,
			Dir:       seg.Info.Dir,
			Docs:      seg.Reader.DocCount(),
			Terms:     seg.Reader.Terms(),
			MinDocID:  uint32(seg.Info.MinDocID),
			MaxDocID:  uint32(seg.Info.MaxDocID),
			SizeBytes: seg.Info.SizeBytes,
			CreatedAt: seg.Info.CreatedAt,
		})
	}
	return stats, nil
}

// Version identifies one published state of an index. A CREATE starts a new
// IndexID, so generations are only comparable within one IndexID.
type Version struct {
	IndexID    string `json:"index_id"`
	Generation uint64 `json:"generation"`
}

func (s *Snapshot) Version() Version {
	return Version{IndexID: s.meta.IndexID, Generation: s.meta.Generation}
}

// CurrentVersion reads the version of the metadata now published in dir,
// which may be newer than an open snapshot's.
func CurrentVersion(dir string) (Version, error) {
	meta, err := store.New(dir).LoadMeta()
	if err != nil {
		return Version{}, err
	}
	return Version{IndexID: meta.IndexID, Generation: meta.Generation}, nil
}
