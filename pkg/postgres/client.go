// Package postgres opens the PostgreSQL connection pool the loader reads rows
// from.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

// Open returns a connection pool for cfg once the server answers a ping. The
// ping is retried, since a load is often started next to a database that is
// still coming up.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = resilience.Retry(ctx, "postgres ping", resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return db, nil
}
