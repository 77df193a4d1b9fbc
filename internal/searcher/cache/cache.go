// Package cache keeps executed search results in Redis. Keys include the
// index version, so a reload never serves results of an older index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

const keyPrefix = "rowsearch:search:"

// Store is the subset of the Redis client the cache needs. *redis.Client
// from pkg/redis implements it.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get looks up a cached result. Redis failures count as misses.
func (c *QueryCache) Get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	var (
		data  []byte
		found bool
	)
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Load(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Store(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result of plan, computing and storing it on
// a miss. Concurrent misses for the same key compute once. The shared
// computation runs detached from ctx cancellation so one caller leaving does
// not fail the others; a caller whose ctx ends stops waiting.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version indexer.Version,
	plan *parser.QueryPlan,
	limit int,
	computeFn func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	key := BuildKey(version, plan, limit)
	if result, ok := c.Get(ctx, key); ok {
		result.Query = plan.RawQuery
		return result, true, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		result, err := computeFn(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, key, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	}
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.DeletePrefix(ctx, keyPrefix)
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey derives the cache key from the canonical plan, so queries that
// differ only in case or spacing share an entry.
func BuildKey(version indexer.Version, plan *parser.QueryPlan, limit int) string {
	raw := fmt.Sprintf("%s@%d|%s|limit=%d", version.IndexID, version.Generation, plan.String(), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
