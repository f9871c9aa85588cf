package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	docs, err := e.catalog.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no documents ingested"))
		return nil
	}

	fmt.Fprintln(out, headerStyle.Render("documents"))
	for _, doc := range docs {
		fmt.Fprintf(out, "  %s %s\n", successStyle.Render(doc.ID), dimStyle.Render(doc.Title))
		fmt.Fprintf(out, "    %s %d pages, %d chunks, %d groups, %s embeddings, ingested %s\n",
			labelStyle.Render("·"),
			doc.PageCount, doc.ChunkCount, doc.GroupCount,
			doc.EmbeddingModel,
			doc.IngestedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
