package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/leakscan/internal/model"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one bounded, checkpointed scan",
	Long:  "Resumes from the saved cursor, scans at most one shard within the configured budgets and saves progress after every item.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyScanFlags(cmd)

		env, err := initScan(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Controller.Run(ctx)
		if sum != nil {
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(sum)
			} else {
				formatRunSummary(cmd.OutOrStdout(), sum)
			}
		}
		return err
	},
}

// applyScanFlags overrides config values with any flags the user set.
func applyScanFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("max-items") {
		cfg.Scan.MaxItems, _ = f.GetInt("max-items")
	}
	if f.Changed("max-positive") {
		cfg.Scan.MaxPositiveDomains, _ = f.GetInt("max-positive")
	}
	if f.Changed("max-runtime") {
		d, _ := f.GetDuration("max-runtime")
		cfg.Scan.MaxRuntimeSecs = int(d / time.Second)
	}
	if f.Changed("name") {
		cfg.Scan.Name, _ = f.GetString("name")
	}
	if f.Changed("record-unknown") {
		cfg.Scan.RecordUnknown, _ = f.GetBool("record-unknown")
	}
}

// formatRunSummary writes a human-readable run summary to w.
func formatRunSummary(out io.Writer, s *model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Scan:\t%s\n", s.Scan)
	_, _ = fmt.Fprintf(w, "Stop reason:\t%s\n", s.StopReason)
	_, _ = fmt.Fprintf(w, "Shard:\t%s [%d -> %d]\n", s.ShardID, s.StartOffset, s.EndOffset)
	_, _ = fmt.Fprintf(w, "Items scanned:\t%d\n", s.ItemsScanned)
	_, _ = fmt.Fprintf(w, "Items skipped:\t%d\n", s.ItemsSkipped)
	_, _ = fmt.Fprintf(w, "Candidates checked:\t%d\n", s.CandidatesChecked)
	_, _ = fmt.Fprintf(w, "Positive domains:\t%d\n", s.PositiveDomains)
	_, _ = fmt.Fprintf(w, "Unknown domains:\t%d\n", s.UnknownDomains)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.Duration.Round(time.Millisecond))
	_ = w.Flush()
}

func init() {
	scanCmd.Flags().Int("max-items", 0, "override scan.max_items")
	scanCmd.Flags().Int("max-positive", 0, "override scan.max_positive_domains")
	scanCmd.Flags().Duration("max-runtime", 0, "override scan.max_runtime_secs (e.g. 50m)")
	scanCmd.Flags().String("name", "", "override scan.name (checkpoint key)")
	scanCmd.Flags().Bool("record-unknown", false, "also record domains whose verdict is unknown")
	scanCmd.Flags().Bool("json", false, "print the run summary as JSON")
	rootCmd.AddCommand(scanCmd)
}
