package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torn-tools/bazaarwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bazaarwatch",
	Short: "Marketplace sale detection and target tracking",
	Long:  "Polls marketplace listings and actor inventories, detects sales by snapshot diffing, accumulates per-actor sale value, and alerts on inactive high-value targets.",
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
