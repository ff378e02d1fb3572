package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/internal/ingest"
)

type indexOptions struct {
	force      bool
	collection string
	format     string
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Ingest one or more documents",
		Long: `Parse, chunk, embed and index documents. Unchanged files are
skipped unless --force is given.

Examples:
  scribe index ./docs/handbook.pdf
  scribe index ./notes/*.md --collection 3f6e...
  scribe index ./report.docx --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				result, err := app.coordinator.IndexDocument(cmd.Context(), path, ingest.IndexOptions{
					ForceReindex: opts.force,
					CollectionID: opts.collection,
				})
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: error: %v\n", path, err)
					continue
				}

				if opts.format == "json" {
					_ = json.NewEncoder(out).Encode(result)
					if !result.Success {
						failed++
					}
					continue
				}

				switch {
				case result.Skipped:
					fmt.Fprintf(out, "%s: unchanged (%d chunks)\n", path, result.ChunkCount)
				case result.Success:
					fmt.Fprintf(out, "%s: indexed (%d chunks)\n", path, result.ChunkCount)
				default:
					failed++
					fmt.Fprintf(out, "%s: failed: %s\n", path, result.Error)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Reindex even when the file is unchanged")
	cmd.Flags().StringVar(&opts.collection, "collection", "", "Collection id to assign the documents to")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}
