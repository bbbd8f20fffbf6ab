package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leakscan",
	Short: "Resumable scanner for links to unregistered domains",
	Long:  "Walks shard-partitioned text sources, extracts linked domains, classifies their liveness via DNS, HTTP, registrar and WHOIS signals, and records the ones that look available.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
