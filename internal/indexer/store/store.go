// Package store manages the on-disk layout of an index: the metadata file
// listing the schema and the live segments, and one directory per segment.
// Publication of a new segment set is a single atomic rename of meta.json.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

const (
	MetaFileName  = "meta.json"
	LockFileName  = "write.lock"
	MetaVersion   = 1
	segmentPrefix = "seg_"
	tmpSuffix     = ".tmp"
)

// ErrNoIndex is returned by LoadMeta when the directory holds no index.
var ErrNoIndex = errors.New("no index metadata")

// SegmentInfo describes one live segment.
type SegmentInfo struct {
	ID        uint64      `json:"id"`
	Dir       string      `json:"dir"`
	DocCount  int         `json:"doc_count"`
	MinDocID  index.DocID `json:"min_doc_id"`
	MaxDocID  index.DocID `json:"max_doc_id"`
	TermCount int         `json:"term_count"`
	SizeBytes int64       `json:"size_bytes"`
	CreatedAt time.Time   `json:"created_at"`
}

// Meta is the durable state of an index.
type Meta struct {
	Version       int           `json:"version"`
	IndexID       string        `json:"index_id"`
	Generation    uint64        `json:"generation"`
	Schema        schema.Schema `json:"schema"`
	NextDocID     index.DocID   `json:"next_doc_id"`
	NextSegmentID uint64        `json:"next_segment_id"`
	Segments      []SegmentInfo `json:"segments"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewMeta returns the metadata of an empty index.
func NewMeta(s schema.Schema) *Meta {
	return &Meta{
		Version:       MetaVersion,
		IndexID:       uuid.NewString(),
		Schema:        s,
		NextDocID:     1,
		NextSegmentID: 1,
		Segments:      []SegmentInfo{},
	}
}

// DocCount is the number of documents in all live segments.
func (m *Meta) DocCount() int {
	total := 0
	for _, seg := range m.Segments {
		total += seg.DocCount
	}
	return total
}

// Clone returns a deep copy so that a published Meta is never mutated.
func (m *Meta) Clone() *Meta {
	c := *m
	c.Schema.Fields = append([]schema.FieldSpec(nil), m.Schema.Fields...)
	c.Segments = append([]SegmentInfo(nil), m.Segments...)
	return &c
}

// Store gives access to the index in dir.
type Store struct {
	dir    string
	logger *slog.Logger
}

func New(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "index-store", "dir", dir),
	}
}

func (s *Store) Dir() string {
	return s.dir
}

// Init creates the index directory when missing.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return apperrors.IO("creating index directory", s.dir, err)
	}
	return nil
}

// LoadMeta reads the currently published metadata.
func (s *Store) LoadMeta() (*Meta, error) {
	path := filepath.Join(s.dir, MetaFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.IO("reading index metadata", path, fmt.Errorf("%w: %w", ErrNoIndex, err))
		}
		return nil, apperrors.IO("reading index metadata", path, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.IO("parsing index metadata", path, err)
	}
	if meta.Version != MetaVersion {
		return nil, apperrors.IO("reading index metadata", path, fmt.Errorf("unsupported metadata version %d", meta.Version))
	}
	return &meta, nil
}

// PublishMeta atomically replaces the metadata file. The generation is
// incremented on the given value before it is written.
func (s *Store) PublishMeta(meta *Meta) error {
	meta.Generation++
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	finalPath := filepath.Join(s.dir, MetaFileName)
	tmpPath := finalPath + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.IO("creating metadata", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperrors.IO("writing metadata", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperrors.IO("syncing metadata", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return apperrors.IO("closing metadata", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return apperrors.IO("publishing metadata", finalPath, err)
	}
	if err := segment.SyncDir(s.dir); err != nil {
		return apperrors.IO("syncing index directory", s.dir, err)
	}
	s.logger.Debug("metadata published",
		"generation", meta.Generation,
		"segments", len(meta.Segments),
		"docs", meta.DocCount(),
	)
	return nil
}

// ListSegments returns the live segments of the published metadata.
func (s *Store) ListSegments() ([]SegmentInfo, error) {
	meta, err := s.LoadMeta()
	if err != nil {
		return nil, err
	}
	return meta.Segments, nil
}

// SegmentDirName is the directory name of segment id.
func SegmentDirName(id uint64) string {
	return fmt.Sprintf("%s%06d", segmentPrefix, id)
}

// WriteSegment writes batch as segment id. The segment is not live until
// it is listed by published metadata.
func (s *Store) WriteSegment(id uint64, batch index.Batch) (SegmentInfo, error) {
	name := SegmentDirName(id)
	info, err := segment.NewWriter(s.dir).Write(name, batch)
	if err != nil {
		return SegmentInfo{}, apperrors.IO("writing segment", filepath.Join(s.dir, name), err)
	}
	return SegmentInfo{
		ID:        id,
		Dir:       name,
		DocCount:  info.DocCount,
		MinDocID:  info.MinDocID,
		MaxDocID:  info.MaxDocID,
		TermCount: info.TermCount,
		SizeBytes: info.SizeBytes,
		CreatedAt: info.CreatedAt,
	}, nil
}

// ReadSegment opens a reader over a segment.
func (s *Store) ReadSegment(info SegmentInfo, cacheSize int) (*segment.Reader, error) {
	path := filepath.Join(s.dir, info.Dir)
	r, err := segment.OpenReader(path, cacheSize)
	if err != nil {
		return nil, apperrors.IO("opening segment", path, err)
	}
	return r, nil
}

// DeleteSegment removes the directory of a segment that is no longer live.
func (s *Store) DeleteSegment(info SegmentInfo) error {
	path := filepath.Join(s.dir, info.Dir)
	if err := os.RemoveAll(path); err != nil {
		return apperrors.IO("deleting segment", path, err)
	}
	return nil
}

// RemoveUnreferenced deletes temp files and segment directories that the
// metadata does not list, which is what a crashed writer leaves behind.
func (s *Store) RemoveUnreferenced(meta *Meta) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, apperrors.IO("listing index directory", s.dir, err)
	}
	live := make(map[string]struct{}, len(meta.Segments))
	for _, seg := range meta.Segments {
		live[seg.Dir] = struct{}{}
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		orphan := strings.HasSuffix(name, tmpSuffix)
		if !orphan && entry.IsDir() && strings.HasPrefix(name, segmentPrefix) {
			_, isLive := live[name]
			orphan = !isLive
		}
		if !orphan {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			return removed, apperrors.IO("removing orphaned file", filepath.Join(s.dir, name), err)
		}
		s.logger.Info("removed orphaned index file", "name", name)
		removed++
	}
	return removed, nil
}
