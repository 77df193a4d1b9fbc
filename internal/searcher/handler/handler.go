// Package handler serves the HTTP query API of `rowsearch serve`.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/analytics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/reload"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/tracing"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error)
	Snapshot() *indexer.Snapshot
	Stats() (indexer.Stats, error)
}

type Reloader interface {
	Reload(ctx context.Context, trigger string) (bool, error)
}

type Handler struct {
	executor     SearchExecutor
	cache        *cache.QueryCache
	reloader     Reloader
	metrics      *metrics.Metrics
	analytics    *analytics.Aggregator
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// Config carries the optional collaborators of a Handler; nil disables them.
type Config struct {
	Cache        *cache.QueryCache
	Reloader     Reloader
	Metrics      *metrics.Metrics
	Analytics    *analytics.Aggregator
	DefaultLimit int
	MaxResults   int
}

func New(exec SearchExecutor, cfg Config) *Handler {
	return &Handler{
		executor:     exec,
		cache:        cfg.Cache,
		reloader:     cfg.Reloader,
		metrics:      cfg.Metrics,
		analytics:    cfg.Analytics,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /api/v1/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	defer func() {
		span.End()
		span.Log(ctx)
	}()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, err := h.limit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.executor.Snapshot()
	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	plan, err := parser.Parse(query, snap.Schema())
	parseSpan.End()
	if err != nil {
		h.countQuery("syntax_error")
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	var (
		result   *executor.SearchResult
		cacheHit bool
	)
	cacheStatus := "disabled"
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, snap.Version(), plan, limit, func(ctx context.Context) (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, plan, limit)
		})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.executor.Execute(ctx, plan, limit)
	}
	if err != nil {
		h.countQuery("error")
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, searchFailureStatus(err), "search failed: "+err.Error())
		return
	}

	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
	}
	if result.TotalHits == 0 {
		h.countQuery("zero_result")
	} else {
		h.countQuery("hit")
	}
	if h.analytics != nil {
		h.analytics.Record(analytics.Event{
			Query:     plan.String(),
			TotalHits: result.TotalHits,
			Latency:   elapsed,
			CacheHit:  cacheHit,
		})
	}
	log.Info("search completed",
		"query", query,
		"plan", plan.String(),
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) limit(r *http.Request) (int, error) {
	limit := h.defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if h.maxResults > 0 && (limit <= 0 || limit > h.maxResults) {
		limit = h.maxResults
	}
	return limit, nil
}

func searchFailureStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return apperrors.HTTPStatusCode(err)
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.executor.Stats()
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Analytics handles GET /api/v1/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.analytics.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusBadGateway, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Reload handles POST /api/v1/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reloading is disabled")
		return
	}
	changed, err := h.reloader.Reload(r.Context(), reload.TriggerAPI)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": changed,
		"version":  h.executor.Snapshot().Version(),
	})
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
