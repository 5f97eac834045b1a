package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := storage.Open(cmd.Context(), cfg.Database, true)
		if err != nil {
			return err
		}
		defer store.Close()
		slog.Info("migrations applied", "driver", cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
