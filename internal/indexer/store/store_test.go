package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

func oneDocBatch(id index.DocID, text string) index.Batch {
	mi := index.NewMemoryIndex()
	mi.AddDocument(id, map[string]string{"index": text}, map[string]string{"row": text})
	return mi.Snapshot()
}

func TestLoadMeta_NoIndex(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.LoadMeta()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoIndex))
	assert.True(t, errors.Is(err, apperrors.ErrIO))
}

func TestPublishMeta_RoundTripAndGeneration(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	meta := NewMeta(schema.Default())
	require.NoError(t, s.PublishMeta(meta))
	assert.Equal(t, uint64(1), meta.Generation)

	loaded, err := s.LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, meta.IndexID, loaded.IndexID)
	assert.Equal(t, uint64(1), loaded.Generation)
	assert.True(t, loaded.Schema.Equal(schema.Default()))
	assert.Equal(t, index.DocID(1), loaded.NextDocID)
	assert.Empty(t, loaded.Segments)

	require.NoError(t, s.PublishMeta(loaded))
	again, err := s.LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), again.Generation)

	_, err = os.Stat(filepath.Join(s.Dir(), MetaFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteSegment_NotLiveUntilPublished(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	meta := NewMeta(schema.Default())
	require.NoError(t, s.PublishMeta(meta))

	info, err := s.WriteSegment(1, oneDocBatch(1, "hello world"))
	require.NoError(t, err)
	assert.Equal(t, "seg_000001", info.Dir)
	assert.Equal(t, 1, info.DocCount)

	segs, err := s.ListSegments()
	require.NoError(t, err)
	assert.Empty(t, segs)

	meta.Segments = append(meta.Segments, info)
	require.NoError(t, s.PublishMeta(meta))
	segs, err = s.ListSegments()
	require.NoError(t, err)
	require.Len(t, segs, 1)

	r, err := s.ReadSegment(segs[0], 0)
	require.NoError(t, err)
	defer r.Close()
	postings, err := r.Search("index", "hello")
	require.NoError(t, err)
	assert.Len(t, postings, 1)
}

func TestRemoveUnreferenced(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	meta := NewMeta(schema.Default())

	live, err := s.WriteSegment(1, oneDocBatch(1, "live"))
	require.NoError(t, err)
	_, err = s.WriteSegment(2, oneDocBatch(2, "orphan"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir(), "seg_000003.tmp"), 0755))

	meta.Segments = []SegmentInfo{live}
	require.NoError(t, s.PublishMeta(meta))
	// a crash between writing and renaming the metadata leaves this behind
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "meta.json.tmp"), []byte("{"), 0644))

	removed, err := s.RemoveUnreferenced(meta)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{MetaFileName, "seg_000001"}, names)
}

func TestDeleteSegment(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	info, err := s.WriteSegment(4, oneDocBatch(1, "gone"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteSegment(info))
	_, err = s.ReadSegment(info, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWriteLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireWriteLock(dir)
	require.NoError(t, err)
	assert.True(t, first.IsHeld())

	_, err = AcquireWriteLock(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrLockConflict))
	assert.Equal(t, apperrors.ExitLockConflict, apperrors.ExitCode(err))

	require.NoError(t, first.Release())
	assert.False(t, first.IsHeld())

	second, err := AcquireWriteLock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
