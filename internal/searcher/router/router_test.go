package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/analytics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/middleware"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newServerWithOptions(t, Options{RequestTimeout: time.Second})
}

func newServerWithOptions(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	w, err := indexer.Open(context.Background(), dir, schema.Default(), indexer.ModeCreate, indexer.Options{})
	require.NoError(t, err)
	for _, r := range []string{"the quick brown fox", "the lazy dog"} {
		_, err := w.AddDocument(indexer.Document{"index": r, "row": r})
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit(context.Background()))
	require.NoError(t, w.Close())

	snap, err := indexer.OpenSnapshot(context.Background(), dir, indexer.SnapshotOptions{})
	require.NoError(t, err)
	exec := executor.New(snap, executor.Options{})
	t.Cleanup(func() { exec.Snapshot().Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	checker := health.NewChecker(time.Second)
	checker.Register("index", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp}
	})
	h := handler.New(exec, handler.Config{Metrics: m, Analytics: analytics.New(), DefaultLimit: 10, MaxResults: 100})
	opts.Gatherer = reg
	srv := httptest.NewServer(New(h, checker, m, opts))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_SearchThroughMiddleware(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/search?q=fox")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	var result executor.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Results, 1)
	assert.Equal(t, "the quick brown fox", result.Results[0].Fields["row"])
}

func TestRouter_MethodsAreEnforced(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/search?q=fox", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/search?q=dog")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rowsearch_http_requests_total{method="GET",path="/api/v1/search",status="200"} 1`)
}

func TestRouter_Analytics(t *testing.T) {
	srv := newServer(t)
	for _, q := range []string{"fox", "Fox", "cat"} {
		resp, err := http.Get(srv.URL + "/api/v1/search?q=" + q)
		require.NoError(t, err)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/v1/analytics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats analytics.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 3, stats.TotalSearches)
	assert.EqualValues(t, 1, stats.ZeroResultCount)
	assert.Equal(t, "index:fox", stats.TopQueries[0].Query)
}

func TestRouter_RateLimitSparesHealth(t *testing.T) {
	srv := newServerWithOptions(t, Options{
		RequestTimeout: time.Second,
		RateLimiter:    middleware.NewRateLimiter(0.001, 1),
	})

	resp, err := http.Get(srv.URL + "/api/v1/search?q=fox")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/search?q=fox")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	resp, err = http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
