package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
)

type searchOptions struct {
	limit int
	json  bool
}

func (a *app) newSearchCommand() *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the index and print matching rows",
		Long: `Searches the index and prints the matching rows, best first.

A query is a list of clauses. A clause is a bare term, a "quoted phrase" whose
terms must appear next to each other, or either of these prefixed with a field
name (field:term). A row matches when any clause matches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				opts.limit = a.cfg.Search.DefaultLimit
			}
			return a.runSearch(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 100, "maximum number of rows to print (0 prints all)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the result as JSON")
	return cmd
}

func (a *app) runSearch(ctx context.Context, query string, opts searchOptions) error {
	snap, err := indexer.OpenSnapshot(ctx, a.cfg.Index.Dir, a.snapshotOptions())
	if err != nil {
		return err
	}
	defer snap.Close()

	plan, err := parser.Parse(query, snap.Schema())
	if err != nil {
		return err
	}
	exec := executor.New(snap, executor.Options{Timeout: a.cfg.Search.Timeout})
	result, err := exec.Execute(ctx, plan, opts.limit)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		slog.Warn("row unavailable", "doc_id", e.DocID, "error", e.Error)
	}

	if opts.json {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printer := rowPrinter(snap.Schema(), a.cfg.Search.PrintField)
	for _, hit := range result.Results {
		fmt.Fprintln(a.stdout, printer(hit))
	}
	return nil
}

func (a *app) snapshotOptions() indexer.SnapshotOptions {
	return indexer.SnapshotOptions{
		PostingsCacheSize: a.cfg.Index.PostingsCacheSize,
		OpenAttempts:      a.cfg.Index.OpenRetries,
	}
}

// rowPrinter prints the configured field of a hit when the schema stores it,
// and every stored field joined by " | " otherwise.
func rowPrinter(s schema.Schema, field string) func(executor.Hit) string {
	if spec, ok := s.Lookup(field); ok && spec.Stored {
		return func(h executor.Hit) string { return h.Fields[field] }
	}
	stored := s.StoredFields()
	return func(h executor.Hit) string {
		parts := make([]string, 0, len(stored))
		for _, name := range stored {
			parts = append(parts, h.Fields[name])
		}
		return strings.Join(parts, " | ")
	}
}
