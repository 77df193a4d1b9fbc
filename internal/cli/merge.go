package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
)

func (a *app) newMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge all segments of the index into one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMerge(cmd.Context())
		},
	}
}

func (a *app) runMerge(ctx context.Context) error {
	// Opening in append mode would initialize a missing index.
	if _, err := indexer.CurrentVersion(a.cfg.Index.Dir); err != nil {
		return err
	}
	s, err := a.schema()
	if err != nil {
		return err
	}
	w, err := indexer.Open(ctx, a.cfg.Index.Dir, s, indexer.ModeAppend, indexer.Options{Metrics: a.metrics})
	if err != nil {
		return err
	}
	defer w.Close()

	before := len(w.Segments())
	if err := w.ForceMerge(ctx); err != nil {
		return err
	}
	slog.Info("index merged", "dir", a.cfg.Index.Dir, "segments_before", before, "generation", w.Generation())
	a.notify(ctx, w.CompleteEvent("merge"))
	return w.Close()
}
