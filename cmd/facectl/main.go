package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/observability"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:          "facectl",
	Short:        "Operator tooling for facegate",
	Long:         "Runs schema migrations, manages users, sweeps stale extraction jobs and prunes orphaned objects in the configured stores.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
