package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/storage"
)

var blobsCmd = &cobra.Command{
	Use:   "blobs",
	Short: "Maintain the object store",
}

var blobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete images and uploads whose face or job no longer exists",
	Long: `Walks faces/, uploads/ and jobs/ in the object store and removes every
object whose owning face or extraction job is gone, such as images left
behind by a write that failed after the upload.

Examples:
  # List what would be removed
  facectl blobs prune --dry-run

  # Remove it
  facectl blobs prune`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		store, err := storage.Open(cmd.Context(), cfg.Database, false)
		if err != nil {
			return err
		}
		defer store.Close()
		blobs, err := storage.NewBlobStore(cmd.Context(), cfg.MinIO)
		if err != nil {
			return err
		}

		orphans, err := storage.PruneOrphans(cmd.Context(), store, blobs, dryRun)
		for _, key := range orphans {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		if err != nil {
			return err
		}
		verb := "removed"
		if dryRun {
			verb = "would remove"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %d object(s)\n", verb, len(orphans))
		return nil
	},
}

func init() {
	blobsPruneCmd.Flags().Bool("dry-run", false, "only list orphaned objects")

	blobsCmd.AddCommand(blobsPruneCmd)
	rootCmd.AddCommand(blobsCmd)
}
