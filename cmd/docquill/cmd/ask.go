package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docquill/docquill/internal/trace"
)

type askOptions struct {
	stream    bool
	showTrace bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <doc-id> <question>",
		Short: "Ask a question about an ingested document",
		Long: `Ask a question about an ingested document. The answer is grounded in
retrieved passages and cites them as [c1], [c2], and so on.

Examples:
  docquill ask q3-report "summarize the revenue section"
  docquill ask q3-report "who wrote the methodology" --trace
  docquill ask q3-report "list the regions" --stream`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			return runAsk(cmd, args[0], query, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Stream the answer as it is generated")
	cmd.Flags().BoolVar(&opts.showTrace, "trace", false, "Show retrieval trace details")

	return cmd
}

func runAsk(cmd *cobra.Command, docID, query string, opts askOptions) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	ctx := cmd.Context()
	pipeline, err := e.newAnswerPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	out := cmd.OutOrStdout()

	if opts.stream {
		result, err := pipeline.AskStream(ctx, docID, query, nil)
		if err != nil {
			return err
		}
		for f := range result.Stream {
			fmt.Fprint(out, f.Text)
		}
		fmt.Fprintln(out)
		renderTrace(out, result.Trace, opts.showTrace)
		return nil
	}

	result, err := pipeline.Ask(ctx, docID, query, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result.Text)
	renderTrace(out, result.Trace, opts.showTrace)
	return nil
}

func renderTrace(out io.Writer, tr *trace.RetrievalTrace, detailed bool) {
	if tr.Fallback != trace.FallbackNone {
		fmt.Fprintln(out, warnStyle.Render("degraded: ")+string(tr.Fallback))
	}
	if !detailed {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("retrieval trace"))
	fmt.Fprintln(out, dimStyle.Render("  "+tr.Summary()))

	if len(tr.Citations) == 0 {
		return
	}
	keys := make([]string, 0, len(tr.Citations))
	for key := range tr.Citations {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fmt.Fprintln(out, labelStyle.Render("  citations:"))
	for _, key := range keys {
		ref := tr.Citations[key]
		loc := fmt.Sprintf("%s chunk %d", ref.DocID, ref.ChunkIndex)
		if ref.GroupID != "" {
			loc = fmt.Sprintf("%s group %s", ref.DocID, ref.GroupID)
		}
		fmt.Fprintf(out, "    [%s] %s\n", key, dimStyle.Render(loc))
	}
}
