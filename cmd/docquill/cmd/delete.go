package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docquill/docquill/internal/ingest"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete an ingested document and its indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, args[0])
		},
	}
}

func runDelete(cmd *cobra.Command, docID string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	// Deletion touches only the catalog and artifact files, no embedder.
	pipeline := ingest.NewPipeline(e.cfg, e.catalog, nil, e.logger)
	if err := pipeline.Delete(cmd.Context(), docID); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ deleted ")+docID)
	return nil
}
