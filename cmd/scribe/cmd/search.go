package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/internal/search"
)

type searchOptions struct {
	limit     int
	threshold float64
	rerank    bool
	noRerank  bool
	format    string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed documents",
		Long: `Search indexed chunks by meaning. Results are ranked by similarity
and, when enabled, refined by the reranker.

Examples:
  scribe search "incident response process"
  scribe search "quarterly revenue" --limit 3 --format json
  scribe search "vpn setup" --no-rerank`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			req := search.Request{
				Query:     strings.Join(args, " "),
				Limit:     opts.limit,
				Threshold: opts.threshold,
			}
			if opts.rerank {
				on := true
				req.Rerank = &on
			}
			if opts.noRerank {
				off := false
				req.Rerank = &off
			}

			resp, err := app.engine.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, r := range resp.Results {
				fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Filename)
				fmt.Fprintf(out, "   %s\n", snippet(r.Content, 200))
			}
			if resp.RerankUsed {
				fmt.Fprintln(out, "(reranked)")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (0 uses SEARCH_LIMIT)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum similarity score (0 uses config default)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Force reranking on")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Force reranking off")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.MarkFlagsMutuallyExclusive("rerank", "no-rerank")
	return cmd
}

// snippet collapses whitespace and truncates for one-line display.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
