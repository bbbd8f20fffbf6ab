package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset the scan checkpoint",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved cursor as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cur, err := st.LoadCursor(ctx, cfg.Scan.Name)
		if err != nil {
			return eris.Wrap(err, "cursor show")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cur)
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved cursor so the next scan starts at the first shard",
	Long:  "Deletes the checkpoint for scan.name. The dedup ledger is kept, so items already processed are skipped on the rescan.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("cursor reset: pass --yes to confirm")
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteCursor(ctx, cfg.Scan.Name); err != nil {
			return eris.Wrap(err, "cursor reset")
		}
		zap.L().Info("cursor reset", zap.String("scan", cfg.Scan.Name))
		fmt.Fprintf(cmd.OutOrStdout(), "cursor for %q reset\n", cfg.Scan.Name)
		return nil
	},
}

func init() {
	cursorResetCmd.Flags().Bool("yes", false, "confirm the reset")
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}
