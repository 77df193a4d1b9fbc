package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/analytics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

type testServer struct {
	h    *Handler
	w    *indexer.Writer
	exec *executor.Executor
	m    *metrics.Metrics
}

func newTestServer(t *testing.T, rows ...string) *testServer {
	t.Helper()
	dir := t.TempDir()
	w, err := indexer.Open(context.Background(), dir, schema.Default(), indexer.ModeCreate, indexer.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	for _, r := range rows {
		_, err := w.AddDocument(indexer.Document{"index": r, "row": r})
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit(context.Background()))

	snap, err := indexer.OpenSnapshot(context.Background(), dir, indexer.SnapshotOptions{})
	require.NoError(t, err)
	exec := executor.New(snap, executor.Options{Timeout: time.Second})
	t.Cleanup(func() { exec.Snapshot().Close() })

	m := metrics.New(prometheus.NewRegistry())
	h := New(exec, Config{
		Reloader:     reload.New(exec, dir, indexer.SnapshotOptions{}, m),
		Metrics:      m,
		Analytics:    analytics.New(),
		DefaultLimit: 10,
		MaxResults:   50,
	})
	return &testServer{h: h, w: w, exec: exec, m: m}
}

func do(t *testing.T, fn http.HandlerFunc, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestSearch_ReturnsRankedRows(t *testing.T) {
	s := newTestServer(t, "the quick brown fox", "the lazy dog")
	rec := httptest.NewRecorder()
	s.h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=the", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result executor.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "the", result.Query)
	assert.Equal(t, 2, result.TotalHits)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "the lazy dog", result.Results[0].Fields["row"])
	assert.Equal(t, 1.0, testutil.ToFloat64(s.m.SearchQueriesTotal.WithLabelValues("hit")))
}

func TestSearch_ValidatesParameters(t *testing.T) {
	s := newTestServer(t, "row")

	rec, body := do(t, s.h.Search, http.MethodGet, "/api/v1/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "'q' is required")

	rec, _ = do(t, s.h.Search, http.MethodGet, "/api/v1/search?q=row&limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, s.h.Search, http.MethodGet, "/api/v1/search?q=%22unterminated")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "query syntax error")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.m.SearchQueriesTotal.WithLabelValues("syntax_error")))
}

func TestSearch_LimitIsCapped(t *testing.T) {
	s := newTestServer(t, "a", "a a", "a a a")
	assert.Equal(t, 2, mustLimit(t, s.h, "/api/v1/search?q=a&limit=2"))
	assert.Equal(t, 10, mustLimit(t, s.h, "/api/v1/search?q=a"))
	assert.Equal(t, 50, mustLimit(t, s.h, "/api/v1/search?q=a&limit=5000"))
}

func mustLimit(t *testing.T, h *Handler, target string) int {
	t.Helper()
	limit, err := h.limit(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	return limit
}

func TestSearch_ZeroResults(t *testing.T) {
	s := newTestServer(t, "row")
	rec, body := do(t, s.h.Search, http.MethodGet, "/api/v1/search?q=missing")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["total_hits"])
	assert.Equal(t, []any{}, body["results"])
	assert.Equal(t, 1.0, testutil.ToFloat64(s.m.SearchQueriesTotal.WithLabelValues("zero_result")))
}

func TestStats(t *testing.T) {
	s := newTestServer(t, "one", "two")
	rec, body := do(t, s.h.Stats, http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["docs"])
	assert.Len(t, body["segments"], 1)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	s := newTestServer(t, "row")
	rec, body := do(t, s.h.CacheStats, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", body["status"])

	rec, _ = do(t, s.h.CacheInvalidate, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReload(t *testing.T) {
	s := newTestServer(t, "first")
	rec, body := do(t, s.h.Reload, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["reloaded"])

	_, err := s.w.AddDocument(indexer.Document{"index": "second", "row": "second"})
	require.NoError(t, err)
	require.NoError(t, s.w.Commit(context.Background()))

	rec, body = do(t, s.h.Reload, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["reloaded"])
	assert.Equal(t, 2, s.exec.Snapshot().DocCount())

	_, body = do(t, s.h.Search, http.MethodGet, "/api/v1/search?q=second")
	assert.Equal(t, 1.0, body["total_hits"])
}

func TestAnalytics_CountsCanonicalQueries(t *testing.T) {
	s := newTestServer(t, "the quick brown fox", "the lazy dog")
	for _, q := range []string{"FOX", "fox", "%20fox%20", "cat"} {
		rec := httptest.NewRecorder()
		s.h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q="+q, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	s.h.Analytics(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats analytics.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 4, stats.TotalSearches)
	assert.EqualValues(t, 1, stats.ZeroResultCount)
	require.NotEmpty(t, stats.TopQueries)
	assert.Equal(t, analytics.QueryCount{Query: "index:fox", Count: 3}, stats.TopQueries[0])
	assert.Equal(t, []analytics.QueryCount{{Query: "index:cat", Count: 1}}, stats.ZeroResultQueries)
}
