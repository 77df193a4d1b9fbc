// Package router wires the query API routes and the middleware chain of
// `rowsearch serve`.
package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/middleware"
)

type Options struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	// RateLimiter limits API requests per client; nil disables it.
	RateLimiter *middleware.RateLimiter
	// Gatherer serves /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// New builds the query server handler.
//
// Route table:
//
//	GET    /api/v1/search            ranked rows for q
//	GET    /api/v1/stats             segments and document counts
//	GET    /api/v1/analytics         query volume, latency and top queries
//	GET    /api/v1/cache/stats       result cache hit rate
//	POST   /api/v1/cache/invalidate  drop cached results
//	POST   /api/v1/reload            reopen the snapshot if the index changed
//	GET    /health/live, /health/ready
//	GET    /metrics
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → handler
func New(h *handler.Handler, checker *health.Checker, m *metrics.Metrics, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics", h.Analytics)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.HandlerFor(opts.Gatherer))
	} else {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(opts.RequestTimeout)(chain)
	chain = middleware.RateLimit(opts.RateLimiter)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(opts.CORSOrigins))(chain)
	chain = middleware.RequestID(chain)
	return chain
}
