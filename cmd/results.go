package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List recorded domains",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		verdicts, _ := cmd.Flags().GetStringSlice("verdict")
		filter, err := resultFilter(verdicts)
		if err != nil {
			return err
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListResults(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "results list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No results found.")
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		formatResults(cmd.OutOrStdout(), recs)
		return nil
	},
}

// resultFilter parses verdict names into a filter.
func resultFilter(verdicts []string) (store.ResultFilter, error) {
	var f store.ResultFilter
	for _, s := range verdicts {
		v, err := model.ParseVerdict(s)
		if err != nil {
			return f, err
		}
		f.Verdicts = append(f.Verdicts, v)
	}
	return f, nil
}

// formatResults writes a tabular list of results to w.
func formatResults(out io.Writer, recs []model.ResultRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tVERDICT\tBY\tITEM\tDISCOVERED\tVERIFIED")
	_, _ = fmt.Fprintln(w, "------\t-------\t--\t----\t----------\t--------")
	for _, r := range recs {
		verified := "-"
		if r.VerifiedAt != nil {
			verified = r.VerifiedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Domain,
			r.Verdict,
			r.DecidedBy,
			r.SourceItemID,
			r.DiscoveredAt.Format("2006-01-02 15:04"),
			verified,
		)
	}
	_ = w.Flush()
}

func init() {
	resultsCmd.Flags().StringSlice("verdict", nil, "filter by verdict (likely_available, unknown, likely_registered)")
	resultsCmd.Flags().Int("limit", 100, "max number of results")
	resultsCmd.Flags().Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(resultsCmd)
}
