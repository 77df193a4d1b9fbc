// Package cli implements the rowsearch command line: bulk loading rows into
// an index, searching it, and serving it over HTTP.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	configPath string
	indexDir   string
	logLevel   string

	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command line with args and returns the process exit code.
// Failures are reported as one line on stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return apperrors.ExitOK
	}
	fmt.Fprintf(stderr, "rowsearch: %s\n", oneLine(err))
	return apperrors.ExitCode(err)
}

func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	var (
		indexFile   string
		searchQuery string
	)

	root := &cobra.Command{
		Use:   "rowsearch",
		Short: "Index the rows of a CSV file and search them",
		Long: `rowsearch loads the rows of a CSV file (or a SQL query) into a persistent
full-text index and answers term and "quoted phrase" queries against it,
printing the matching rows best first.`,
		Example: `  rowsearch -i people.csv
  rowsearch -s 'ada "analytical engine"'
  rowsearch search --json -n 5 lovelace`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case indexFile != "":
				return a.runIndex(cmd.Context(), indexOptions{file: indexFile})
			case searchQuery != "":
				return a.runSearch(cmd.Context(), searchQuery, searchOptions{limit: a.cfg.Search.DefaultLimit})
			default:
				return cmd.Help()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.indexDir, "index-dir", "", "index directory (default from config: rowsearch_index)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.Flags().StringVarP(&indexFile, "index", "i", "", "index the rows of `FILE` (replaces the index)")
	root.Flags().StringVarP(&searchQuery, "search", "s", "", "search the index for `QUERY`")
	root.MarkFlagsMutuallyExclusive("index", "search")

	root.AddCommand(
		a.newIndexCommand(),
		a.newSearchCommand(),
		a.newMergeCommand(),
		a.newStatsCommand(),
		a.newServeCommand(),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.indexDir != "" {
		cfg.Index.Dir = a.indexDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid configuration: "+err.Error())
	}
	logger.SetupWriter(a.stderr, cfg.Logging.Level, cfg.Logging.Format)

	a.cfg = cfg
	a.registry = metrics.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

// schema returns the index schema declared by the configuration.
func (a *app) schema() (schema.Schema, error) {
	s := schema.Schema{Fields: make([]schema.FieldSpec, 0, len(a.cfg.Schema.Fields))}
	for _, f := range a.cfg.Schema.Fields {
		s.Fields = append(s.Fields, schema.FieldSpec{Name: f.Name, Indexed: f.Indexed, Stored: f.Stored})
	}
	if err := s.Validate(); err != nil {
		return schema.Schema{}, err
	}
	return s, nil
}

func oneLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if errors.Is(err, context.Canceled) {
		msg = "interrupted: " + msg
	}
	return msg
}
