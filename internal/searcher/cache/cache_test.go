package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	fail error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Store(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func plan(t *testing.T, q string) *parser.QueryPlan {
	t.Helper()
	p, err := parser.Parse(q, schema.Default())
	require.NoError(t, err)
	return p
}

func v(gen uint64) indexer.Version {
	return indexer.Version{IndexID: "idx", Generation: gen}
}

func newCache(store Store) *QueryCache {
	return New(store, time.Minute, resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}), nil)
}

func TestBuildKey_CanonicalPlansShareKey(t *testing.T) {
	a := BuildKey(v(1), plan(t, "Quick   FOX"), 10)
	b := BuildKey(v(1), plan(t, "quick fox"), 10)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, keyPrefix))

	assert.NotEqual(t, a, BuildKey(v(2), plan(t, "quick fox"), 10), "generation is part of the key")
	assert.NotEqual(t, a, BuildKey(indexer.Version{IndexID: "other", Generation: 1}, plan(t, "quick fox"), 10))
	assert.NotEqual(t, a, BuildKey(v(1), plan(t, "quick fox"), 11), "limit is part of the key")
	assert.NotEqual(t, a, BuildKey(v(1), plan(t, `"quick fox"`), 10))
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c := newCache(newMemStore())
	var calls atomic.Int32
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return &executor.SearchResult{Query: "fox", TotalHits: 1, Results: []executor.Hit{{DocID: 1, Score: 0.5, Fields: map[string]string{"row": "fox"}}}}, nil
	}

	res, hit, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, res.TotalHits)

	res, hit, err = c.GetOrCompute(context.Background(), v(1), plan(t, "FOX"), 10, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "FOX", res.Query)
	assert.Equal(t, "fox", res.Results[0].Fields["row"])
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrCompute_NewGenerationMisses(t *testing.T) {
	c := newCache(newMemStore())
	var calls atomic.Int32
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return &executor.SearchResult{}, nil
	}
	_, _, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, compute)
	require.NoError(t, err)
	_, hit, err := c.GetOrCompute(context.Background(), v(2), plan(t, "fox"), 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_ComputeErrorIsNotCached(t *testing.T) {
	store := newMemStore()
	c := newCache(store)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, func(context.Context) (*executor.SearchResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestGetOrCompute_StoreFailureFallsBackAndTripsBreaker(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	c := newCache(store)
	compute := func(context.Context) (*executor.SearchResult, error) { return &executor.SearchResult{TotalHits: 3}, nil }

	for i := 0; i < 3; i++ {
		res, hit, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, compute)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, 3, res.TotalHits)
	}
	assert.Equal(t, resilience.StateOpen, c.breaker.GetState())

	err := c.Invalidate(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	store.data["unrelated"] = []byte("x")
	c := newCache(store)
	_, _, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, func(context.Context) (*executor.SearchResult, error) {
		return &executor.SearchResult{}, nil
	})
	require.NoError(t, err)
	require.Len(t, store.data, 2)

	require.NoError(t, c.Invalidate(context.Background()))
	assert.Equal(t, map[string][]byte{"unrelated": []byte("x")}, store.data)
}

func TestGetOrCompute_CallerCancelDoesNotFailSharedCompute(t *testing.T) {
	c := newCache(newMemStore())
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &executor.SearchResult{TotalHits: 7}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, v(1), plan(t, "fox"), 10, compute)
		firstErr <- err
	}()
	<-started

	second := make(chan *executor.SearchResult, 1)
	secondErr := make(chan error, 1)
	go func() {
		res, _, err := c.GetOrCompute(context.Background(), v(1), plan(t, "fox"), 10, compute)
		second <- res
		secondErr <- err
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	require.NoError(t, <-secondErr)
	assert.Equal(t, 7, (<-second).TotalHits)
}
