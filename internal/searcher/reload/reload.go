// Package reload keeps a query server's snapshot current. A new snapshot is
// opened when the published index version differs from the one being served,
// either on a poll tick, on an index-complete event, or on request.
package reload

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// Trigger labels what caused a reload.
const (
	TriggerPoll  = "poll"
	TriggerEvent = "event"
	TriggerAPI   = "api"
)

type Reloader struct {
	exec    *executor.Executor
	dir     string
	opts    indexer.SnapshotOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
}

func New(exec *executor.Executor, dir string, opts indexer.SnapshotOptions, m *metrics.Metrics) *Reloader {
	return &Reloader{
		exec:    exec,
		dir:     dir,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "snapshot-reloader", "dir", dir),
	}
}

// Reload swaps in a fresh snapshot when the published version changed and
// reports whether it did. The replaced snapshot is closed once its in-flight
// queries release it.
func (r *Reloader) Reload(ctx context.Context, trigger string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.exec.Snapshot().Version()
	published, err := indexer.CurrentVersion(r.dir)
	if err != nil {
		r.count(trigger, "failed")
		return false, err
	}
	if published == current {
		r.count(trigger, "unchanged")
		return false, nil
	}

	snap, err := indexer.OpenSnapshot(ctx, r.dir, r.opts)
	if err != nil {
		r.count(trigger, "failed")
		r.logger.Error("snapshot reload failed", "trigger", trigger, "error", err)
		return false, err
	}
	old := r.exec.Swap(snap)
	if err := old.Close(); err != nil {
		r.logger.Warn("closing replaced snapshot", "error", err)
	}
	r.count(trigger, "reloaded")
	if r.metrics != nil {
		r.metrics.LiveSegments.Set(float64(len(snap.Segments())))
		r.metrics.IndexDocCount.Set(float64(snap.DocCount()))
	}
	r.logger.Info("snapshot reloaded",
		"trigger", trigger,
		"index_id", snap.IndexID(),
		"from_generation", current.Generation,
		"to_generation", snap.Generation(),
		"docs", snap.DocCount(),
	)
	return true, nil
}

// Watch polls the published version every interval until ctx is cancelled.
func (r *Reloader) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reload(ctx, TriggerPoll); err != nil {
				r.logger.Warn("poll reload failed", "error", err)
			}
		}
	}
}

// HandleIndexComplete returns a Kafka handler that reloads when an event for
// this index directory arrives. Malformed events and other directories are
// acknowledged and skipped.
func (r *Reloader) HandleIndexComplete() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.IndexCompleteEvent](value)
		if err != nil {
			r.logger.Error("failed to decode index-complete event", "key", string(key), "error", err)
			return nil
		}
		if !sameDir(event.Dir, r.dir) {
			r.logger.Debug("ignoring event for another index", "event_dir", event.Dir)
			return nil
		}
		_, err = r.Reload(ctx, TriggerEvent)
		return err
	}
}

func (r *Reloader) count(trigger, status string) {
	if r.metrics != nil {
		r.metrics.SnapshotReloadsTotal.WithLabelValues(trigger, status).Inc()
	}
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
