package reload

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

func write(t *testing.T, w *indexer.Writer, rows ...string) {
	t.Helper()
	for _, r := range rows {
		_, err := w.AddDocument(indexer.Document{"index": r, "row": r})
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit(context.Background()))
}

type fixture struct {
	dir  string
	w    *indexer.Writer
	exec *executor.Executor
	r    *Reloader
	m    *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	w, err := indexer.Open(context.Background(), dir, schema.Default(), indexer.ModeCreate, indexer.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	write(t, w, "first row")

	snap, err := indexer.OpenSnapshot(context.Background(), dir, indexer.SnapshotOptions{})
	require.NoError(t, err)
	exec := executor.New(snap, executor.Options{})
	t.Cleanup(func() { exec.Snapshot().Close() })

	m := metrics.New(prometheus.NewRegistry())
	return &fixture{dir: dir, w: w, exec: exec, r: New(exec, dir, indexer.SnapshotOptions{}, m), m: m}
}

func TestReload_UnchangedVersion(t *testing.T) {
	f := setup(t)
	before := f.exec.Snapshot()
	changed, err := f.r.Reload(context.Background(), TriggerAPI)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, before, f.exec.Snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.SnapshotReloadsTotal.WithLabelValues(TriggerAPI, "unchanged")))
}

func TestReload_NewCommitSwapsSnapshot(t *testing.T) {
	f := setup(t)
	before := f.exec.Snapshot()
	write(t, f.w, "second row")

	changed, err := f.r.Reload(context.Background(), TriggerAPI)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotSame(t, before, f.exec.Snapshot())
	assert.Equal(t, 2, f.exec.Snapshot().DocCount())
	assert.Error(t, before.Acquire(), "the replaced snapshot is closed")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.m.IndexDocCount))
}

func TestReload_RecreatedIndexIsDetected(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.w.Close())
	w, err := indexer.Open(context.Background(), f.dir, schema.Default(), indexer.ModeCreate, indexer.Options{})
	require.NoError(t, err)
	defer w.Close()
	write(t, w, "replacement")

	changed, err := f.r.Reload(context.Background(), TriggerPoll)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, w.IndexID(), f.exec.Snapshot().IndexID())
}

func TestHandleIndexComplete(t *testing.T) {
	f := setup(t)
	handle := f.r.HandleIndexComplete()
	write(t, f.w, "second row")

	other, err := json.Marshal(indexer.IndexCompleteEvent{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), nil, other))
	assert.Equal(t, 1, f.exec.Snapshot().DocCount(), "events for other directories are ignored")

	require.NoError(t, handle(context.Background(), nil, []byte("garbage")))

	ours, err := json.Marshal(f.w.CompleteEvent("index"))
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte("k"), ours))
	assert.Equal(t, 2, f.exec.Snapshot().DocCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.SnapshotReloadsTotal.WithLabelValues(TriggerEvent, "reloaded")))
}

func TestWatch_PicksUpCommits(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.r.Watch(ctx, 5*time.Millisecond)
		close(done)
	}()
	write(t, f.w, "second row")

	assert.Eventually(t, func() bool {
		return f.exec.Snapshot().DocCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
