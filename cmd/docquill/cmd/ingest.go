package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docquill/docquill/internal/ingest"
)

type ingestOptions struct {
	id    string
	title string
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a document for question answering",
		Long: `Ingest a plain-text document: chunk it, build the lexical and vector
indexes, group adjacent chunks, and publish the document record.

Pages are split on form-feed characters; a file without form feeds is
treated as a single page.

Examples:
  docquill ingest report.txt
  docquill ingest report.txt --id q3-report --title "Q3 Report"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Document identifier (default: file name without extension)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (default: the identifier)")

	return cmd
}

func runIngest(cmd *cobra.Command, path string, opts ingestOptions) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	docID := opts.id
	if docID == "" {
		docID = slugify(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	title := opts.title
	if title == "" {
		title = docID
	}

	pages := splitPages(string(data))

	ctx := cmd.Context()
	embedder, err := e.newEmbedder(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	pipeline := ingest.NewPipeline(e.cfg, e.catalog, embedder, e.logger)
	doc, err := pipeline.Ingest(ctx, docID, title, pages)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render("✓ ingested ")+headerStyle.Render(doc.ID))
	fmt.Fprintf(out, "  %s %d\n", labelStyle.Render("pages:"), doc.PageCount)
	fmt.Fprintf(out, "  %s %d\n", labelStyle.Render("chunks:"), doc.ChunkCount)
	fmt.Fprintf(out, "  %s %d\n", labelStyle.Render("groups:"), doc.GroupCount)
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render("embeddings:"), doc.EmbeddingModel)
	return nil
}

// splitPages splits document text into pages on form feeds. Page numbers
// are 1-based.
func splitPages(text string) []ingest.Page {
	parts := strings.Split(text, "\f")
	pages := make([]ingest.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, ingest.Page{Number: i + 1, Content: part})
	}
	return pages
}

// slugify lowers a name to a safe document identifier.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
