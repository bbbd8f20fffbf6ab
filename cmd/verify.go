package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/leakscan/internal/scan"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-classify recorded available and unknown domains",
	Long:  "Re-checks stored results, oldest verification first, with the verify.order signals. Unknown outcomes never overwrite a stored verdict.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := scan.VerifyOptions{
			Limit:           cfg.Verify.Limit,
			PruneRegistered: cfg.Verify.PruneRegistered,
		}
		if cmd.Flags().Changed("limit") {
			opts.Limit, _ = cmd.Flags().GetInt("limit")
		}
		if cmd.Flags().Changed("prune") {
			opts.PruneRegistered, _ = cmd.Flags().GetBool("prune")
		}

		env, err := initVerify(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Verifier.Run(ctx, opts)
		if sum != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			_ = enc.Encode(sum)
		}
		return err
	},
}

func init() {
	verifyCmd.Flags().Int("limit", 0, "max results to re-check (default verify.limit)")
	verifyCmd.Flags().Bool("prune", false, "delete results that are now registered")
	rootCmd.AddCommand(verifyCmd)
}
