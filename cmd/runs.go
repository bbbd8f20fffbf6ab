package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leakscan/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scan run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		fmt.Fprintln(cmd.OutOrStdout())
		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Items      int
	Positive   int
	BudgetHit  int
	Deferred   int
	Failed     int
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.RunSummary) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	for _, r := range runs {
		s.Items += r.ItemsScanned
		s.Positive += r.PositiveDomains
		totalDur += r.Duration
		switch {
		case r.StopReason.BudgetHit():
			s.BudgetHit++
		case r.StopReason == model.StopSourceUnavailable:
			s.Deferred++
		case r.StopReason == model.StopFailed:
			s.Failed++
		}
	}

	if s.Total > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Total)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCAN\tSHARD\tOFFSETS\tITEMS\tPOSITIVE\tSTOP\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t-----\t--------\t----\t-------\t--------")

	for _, r := range runs {
		shard := ellipsize(r.ShardID, maxShardWidth)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.RunID),
			r.Scan,
			shard,
			r.StartOffset, r.EndOffset,
			r.ItemsScanned,
			r.PositiveDomains,
			r.StopReason,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration.Round(time.Second),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Items scanned:\t%d\n", s.Items)
	_, _ = fmt.Fprintf(w, "Positive domains:\t%d\n", s.Positive)
	_, _ = fmt.Fprintf(w, "Budget stops:\t%d\n", s.BudgetHit)
	_, _ = fmt.Fprintf(w, "Source unavailable:\t%d\n", s.Deferred)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// maxShardWidth bounds the SHARD column, ellipsis included.
const maxShardWidth = 32

// ellipsize shortens s to at most width runes, ending in "..." when cut.
func ellipsize(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
