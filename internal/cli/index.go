package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/loader"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/postgres"
)

type indexOptions struct {
	file      string
	append    bool
	header    *bool
	delimiter string
	noMerge   bool
	sql       string
	sqlite    string
}

func (a *app) newIndexCommand() *cobra.Command {
	var (
		opts   indexOptions
		header bool
	)
	cmd := &cobra.Command{
		Use:   "index [FILE]",
		Short: "Load rows into the index",
		Long: `Loads every row of a CSV file, or of a SQL query with --sql, into the index.
The index is replaced unless --append is given. Rows are committed in
segments of index.segmentMaxSize bytes and merged into one segment at the end
unless --no-merge is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.file = args[0]
			}
			if cmd.Flags().Changed("header") {
				opts.header = &header
			}
			switch {
			case opts.file == "" && opts.sql == "":
				return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "index needs a FILE or --sql QUERY")
			case opts.file != "" && opts.sql != "":
				return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "FILE and --sql are mutually exclusive")
			case opts.sqlite != "" && opts.sql == "":
				return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "--sqlite needs --sql QUERY")
			}
			return a.runIndex(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.append, "append", false, "add rows to the existing index instead of replacing it")
	f.BoolVar(&header, "header", false, "treat the first CSV row as column names")
	f.StringVar(&opts.delimiter, "delimiter", "", "CSV field delimiter (default from config: ,)")
	f.BoolVar(&opts.noMerge, "no-merge", false, "keep the committed segments instead of merging them")
	f.StringVar(&opts.sql, "sql", "", "load the rows of a SELECT `QUERY` instead of a file")
	f.StringVar(&opts.sqlite, "sqlite", "", "run --sql against the SQLite database `FILE` instead of PostgreSQL")
	return cmd
}

func (a *app) runIndex(ctx context.Context, opts indexOptions) error {
	s, err := a.schema()
	if err != nil {
		return err
	}
	src, err := a.openSource(ctx, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	mode := indexer.ModeCreate
	if opts.append {
		mode = indexer.ModeAppend
	}
	if opts.file != "" {
		fmt.Fprintf(a.stdout, "Indexing %s\n", opts.file)
	}

	if a.cfg.Metrics.Enabled {
		defer a.startMetricsServer()()
	}

	w, err := indexer.Open(ctx, a.cfg.Index.Dir, s, mode, indexer.Options{Metrics: a.metrics})
	if err != nil {
		return err
	}
	defer w.Close()

	lopts := loader.FromConfig(a.cfg)
	if opts.noMerge {
		lopts.ForceMerge = false
	}
	lopts.Progress = func(st loader.Stats) {
		slog.Info("segment committed", "records", st.Records, "commits", st.Commits)
	}
	stats, err := loader.New(lopts).Load(ctx, src, w)
	if err != nil {
		return err
	}
	slog.Info("index complete",
		"dir", a.cfg.Index.Dir,
		"mode", mode,
		"records", stats.Records,
		"segments", len(w.Segments()),
		"duration", stats.Duration,
	)
	a.notify(ctx, w.CompleteEvent("index"))
	return w.Close()
}

func (a *app) openSource(ctx context.Context, opts indexOptions) (loader.Source, error) {
	if opts.file != "" {
		csvOpts := loader.CSVOptions{
			Header:     a.cfg.Loader.Header,
			LazyQuotes: a.cfg.Loader.LazyQuotes,
		}
		if opts.header != nil {
			csvOpts.Header = *opts.header
		}
		delimiter := a.cfg.Loader.Delimiter
		if opts.delimiter != "" {
			delimiter = opts.delimiter
		}
		r := []rune(delimiter)
		if len(r) != 1 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "delimiter must be a single character, got %q", delimiter)
		}
		csvOpts.Delimiter = r[0]
		if c := []rune(a.cfg.Loader.Comment); len(c) == 1 {
			csvOpts.Comment = c[0]
		}
		return loader.OpenCSV(opts.file, csvOpts)
	}

	var (
		db  *sql.DB
		err error
	)
	if opts.sqlite != "" {
		db, err = sql.Open("sqlite", opts.sqlite)
		if err != nil {
			return nil, apperrors.IO("opening", opts.sqlite, err)
		}
	} else {
		db, err = postgres.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, apperrors.IO("connecting to", a.cfg.Postgres.Host, err)
		}
	}
	src, err := loader.OpenSQL(ctx, db, opts.sql)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &dbSource{SQLSource: src, db: db}, nil
}

// dbSource closes the database together with its result set.
type dbSource struct {
	*loader.SQLSource
	db *sql.DB
}

func (s *dbSource) Close() error {
	err := s.SQLSource.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// notify publishes ev to the index-complete topic when Kafka is enabled.
// Delivery failures are logged; the index itself is already published.
func (a *app) notify(ctx context.Context, ev indexer.IndexCompleteEvent) {
	if !a.cfg.Kafka.Enabled {
		return
	}
	producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := producer.Publish(pubCtx, kafka.Event{Key: ev.Version.IndexID, Value: ev}); err != nil {
		slog.Warn("index-complete notification failed", "error", err)
	}
}

// startMetricsServer exposes the registry on metrics.port and returns its
// shutdown. A port that cannot be bound only costs the metrics.
func (a *app) startMetricsServer() func() {
	srv, err := metrics.StartServer(a.cfg.Metrics.Port, a.registry)
	if err != nil {
		slog.Warn("metrics server not started", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
