package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/store"
)

// scanStatus is the snapshot shown by `status` and GET /stats.
type scanStatus struct {
	Scan      string                  `json:"scan"`
	Cursor    model.ShardCursor       `json:"cursor"`
	Processed int64                   `json:"processed_items"`
	Results   map[model.Verdict]int64 `json:"results"`
}

func loadStatus(ctx context.Context, st store.Store, scanName string) (*scanStatus, error) {
	cur, err := st.LoadCursor(ctx, scanName)
	if err != nil {
		return nil, eris.Wrap(err, "status: load cursor")
	}
	n, err := st.CountProcessed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "status: count ledger")
	}
	counts, err := st.CountResults(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "status: count results")
	}
	return &scanStatus{Scan: scanName, Cursor: cur, Processed: n, Results: counts}, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cursor, ledger size, result counts and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadStatus(ctx, st, cfg.Scan.Name)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		formatStatus(out, s)

		limit, _ := cmd.Flags().GetInt("runs")
		if limit <= 0 {
			return nil
		}
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		if len(runs) > 0 {
			fmt.Fprintln(out)
			formatRunsList(out, runs)
		}
		return nil
	},
}

func formatStatus(out io.Writer, s *scanStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Scan:\t%s\n", s.Scan)
	if s.Cursor.IsZero() {
		_, _ = fmt.Fprintf(w, "Cursor:\tnot started\n")
	} else {
		state := "in progress"
		if s.Cursor.ShardComplete {
			state = "complete"
		}
		_, _ = fmt.Fprintf(w, "Cursor:\t%s @ %d (%s)\n", s.Cursor.ShardID, s.Cursor.Offset, state)
		_, _ = fmt.Fprintf(w, "Updated:\t%s\n", s.Cursor.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	_, _ = fmt.Fprintf(w, "Processed items:\t%d\n", s.Processed)
	for _, v := range []model.Verdict{model.VerdictLikelyAvailable, model.VerdictUnknown, model.VerdictLikelyRegistered} {
		_, _ = fmt.Fprintf(w, "Results %s:\t%d\n", v, s.Results[v])
	}
	_ = w.Flush()
}

func init() {
	statusCmd.Flags().Int("runs", 5, "number of recent runs to show (0 hides them)")
	rootCmd.AddCommand(statusCmd)
}
