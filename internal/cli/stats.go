package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
)

func (a *app) newStatsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the segments and document counts of the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStats(cmd.Context(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the statistics as JSON")
	return cmd
}

func (a *app) runStats(ctx context.Context, asJSON bool) error {
	snap, err := indexer.OpenSnapshot(ctx, a.cfg.Index.Dir, a.snapshotOptions())
	if err != nil {
		return err
	}
	defer snap.Close()
	stats, err := snap.Stats()
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(a.stdout, "Index:      %s\n", a.cfg.Index.Dir)
	fmt.Fprintf(a.stdout, "ID:         %s\n", stats.IndexID)
	fmt.Fprintf(a.stdout, "Generation: %d\n", stats.Generation)
	fmt.Fprintf(a.stdout, "Documents:  %s\n", humanize.Comma(int64(stats.Docs)))
	fmt.Fprintf(a.stdout, "Size:       %s\n", humanize.Bytes(uint64(stats.SizeBytes)))
	fmt.Fprintf(a.stdout, "Fields:     %s\n", strings.Join(stats.Fields, ", "))
	fmt.Fprintf(a.stdout, "Updated:    %s\n", humanize.Time(stats.UpdatedAt))
	if len(stats.Segments) == 0 {
		fmt.Fprintln(a.stdout, "\nNo segments.")
		return nil
	}

	fmt.Fprintln(a.stdout)
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tDOCS\tTERMS\tDOC IDS\tSIZE\tCREATED")
	for _, seg := range stats.Segments {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d-%d\t%s\t%s\n",
			seg.ID,
			humanize.Comma(int64(seg.Docs)),
			humanize.Comma(int64(seg.Terms)),
			seg.MinDocID, seg.MaxDocID,
			humanize.Bytes(uint64(seg.SizeBytes)),
			humanize.Time(seg.CreatedAt),
		)
	}
	return tw.Flush()
}
