package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/extraction"
	"github.com/your-org/facegate/internal/storage"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair extraction jobs",
}

var jobsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail processing jobs that stopped making progress",
	Long: `Marks every extraction job still in processing and untouched for longer
than --older-than as failed, so its uploader can retry.

Examples:
  # Use the configured stale_after
  facectl jobs sweep

  # Fail anything older than 2 minutes
  facectl jobs sweep --older-than 2m`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = cfg.Extraction.StaleAfter
		}

		store, err := storage.Open(cmd.Context(), cfg.Database, false)
		if err != nil {
			return err
		}
		defer store.Close()

		// Sweeping never dispatches, so no blobs or provider are needed.
		engine := extraction.NewEngine(store, nil, nil, extraction.Options{Workers: 1})
		defer engine.Close()

		ids, err := engine.SweepStale(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d job(s) failed\n", len(ids))
		return nil
	},
}

func init() {
	jobsSweepCmd.Flags().Duration("older-than", 0, "age after which a processing job is stale (default: extraction.stale_after)")

	jobsCmd.AddCommand(jobsSweepCmd)
	rootCmd.AddCommand(jobsCmd)
}
