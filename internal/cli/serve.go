package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/analytics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/router"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

func (a *app) newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over HTTP",
		Long: `Serves search, statistics and health endpoints for the index. The served
snapshot follows new commits and merges, either by polling the index metadata
every index.reloadInterval or on index-complete events from Kafka.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port (default from config: 8080)")
	return cmd
}

// server is the assembled query service of one serve invocation.
type server struct {
	handler  http.Handler
	exec     *executor.Executor
	reloader *reload.Reloader
	redis    *pkgredis.Client
}

// newServer opens the index and wires the query service. Redis is optional:
// when it cannot be reached, queries run uncached.
func (a *app) newServer(ctx context.Context) (*server, error) {
	snap, err := indexer.OpenSnapshot(ctx, a.cfg.Index.Dir, a.snapshotOptions())
	if err != nil {
		return nil, err
	}
	exec := executor.New(snap, executor.Options{Timeout: a.cfg.Search.Timeout})
	s := &server{
		exec:     exec,
		reloader: reload.New(exec, a.cfg.Index.Dir, a.snapshotOptions(), a.metrics),
	}

	var queryCache *cache.QueryCache
	if a.cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, a.cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result cache disabled", "addr", a.cfg.Redis.Addr, "error", err)
		} else {
			s.redis = client
			breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
				FailureThreshold:    5,
				ResetTimeout:        30 * time.Second,
				HalfOpenMaxRequests: 1,
				OnStateChange: func(name string, _, to resilience.State) {
					a.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			a.metrics.CircuitBreakerState.WithLabelValues(breaker.Name()).Set(float64(breaker.GetState()))
			queryCache = cache.New(client, a.cfg.Redis.CacheTTL, breaker, a.metrics)
		}
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("index", indexCheck(exec))
	if s.redis != nil {
		checker.Register("redis", health.PingCheck(s.redis, false))
	} else if a.cfg.Redis.Enabled {
		checker.Register("redis", health.PingCheck(nil, false))
	}

	h := handler.New(exec, handler.Config{
		Cache:        queryCache,
		Reloader:     s.reloader,
		Metrics:      a.metrics,
		Analytics:    analytics.New(),
		DefaultLimit: a.cfg.Search.DefaultLimit,
		MaxResults:   a.cfg.Search.MaxResults,
	})
	var limiter *middleware.RateLimiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst)
	}
	s.handler = router.New(h, checker, a.metrics, router.Options{
		RequestTimeout: a.cfg.Server.RequestTimeout,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RateLimiter:    limiter,
		Gatherer:       a.registry,
	})
	return s, nil
}

func (s *server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.exec.Snapshot().Close())
	return errors.Join(errs...)
}

// indexCheck reports the served snapshot; a closed snapshot means the index
// can no longer answer queries.
func indexCheck(exec *executor.Executor) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		snap := exec.Snapshot()
		if err := snap.Acquire(); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		defer snap.Release()
		v := snap.Version()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%s@%d, %d docs", v.IndexID, v.Generation, snap.DocCount()),
		}
	}
}

func (a *app) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := a.newServer(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.reloader.Watch(gctx, a.cfg.Index.ReloadInterval)
		return nil
	})
	if a.cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(a.cfg.Kafka, a.cfg.Kafka.Topics.IndexComplete, s.reloader.HandleIndexComplete())
		g.Go(func() error { return consumer.Start(gctx) })
	}
	g.Go(func() error {
		slog.Info("query server listening", "addr", httpServer.Addr, "dir", a.cfg.Index.Dir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", httpServer.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down query server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
