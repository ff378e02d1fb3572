package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/internal/model"
)

type statusOptions struct {
	format  string
	queries int
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index contents and recent query activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			docs, err := app.meta.GetAllDocuments(ctx)
			if err != nil {
				return err
			}
			collections, err := app.meta.ListCollections(ctx)
			if err != nil {
				return err
			}
			var logs []*model.QueryLog
			if opts.queries > 0 {
				if logs, err = app.meta.RecentQueryLogs(ctx, opts.queries); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"documents":     docs,
					"collections":   collections,
					"recentQueries": logs,
				})
			}

			byStatus := map[model.DocumentStatus]int{}
			chunks := 0
			for _, d := range docs {
				byStatus[d.Status]++
				chunks += d.ChunkCount
			}
			fmt.Fprintf(out, "documents: %d (indexed %d, processing %d, failed %d), chunks: %d\n",
				len(docs), byStatus[model.StatusIndexed], byStatus[model.StatusProcessing],
				byStatus[model.StatusFailed], chunks)

			if len(docs) > 0 {
				tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tCHUNKS\tFILE")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Status, d.ChunkCount, d.Filename)
				}
				tw.Flush()
			}

			if len(collections) > 0 {
				fmt.Fprintln(out, "\ncollections:")
				for _, c := range collections {
					fmt.Fprintf(out, "  %s  %s (%d documents)\n", c.ID, c.Name, c.DocumentCount)
				}
			}

			if len(logs) > 0 {
				fmt.Fprintln(out, "\nrecent queries:")
				for _, q := range logs {
					fmt.Fprintf(out, "  [%s] %q  %d results, %dms\n",
						q.QueryType, q.Query, q.ResultCount, q.LatencyMs)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVar(&opts.queries, "queries", 10, "Recent query log entries to show (0 disables)")
	return cmd
}
