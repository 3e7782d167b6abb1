package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fleet-feedback/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fleet-feedback",
	Short: "Public feedback intake for operative fleet vehicles and staff",
	Long:  "Accepts compliments and incident reports about fleet vehicles and their operators, checks them against the fleet-management database, suppresses repeats, and stores them.",
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
