package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/internal/ask"
)

type askOptions struct {
	limit  int
	model  string
	verify bool
	format string
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from indexed documents",
		Long: `Retrieve the most relevant chunks and generate an answer grounded
in them. With --verify the answer is additionally checked against the
retrieved excerpts and annotated with a grounding score and citations.

Examples:
  scribe ask "what is our refund policy?"
  scribe ask "who approves vendor contracts?" --verify
  scribe ask "summarize the Q3 roadmap" --limit 8 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			answer, err := app.askSvc.Ask(cmd.Context(), ask.Request{
				Question: strings.Join(args, " "),
				Limit:    opts.limit,
				Model:    opts.model,
				Verify:   opts.verify,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(answer)
			}

			fmt.Fprintln(out, answer.Answer)
			if len(answer.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for i, s := range answer.Sources {
					fmt.Fprintf(out, "  [%d] %s (%.3f)\n", i+1, s.Filename, s.Score)
				}
			}
			if v := answer.Verification; v != nil {
				fmt.Fprintf(out, "\nGrounding: %.2f", v.GroundingScore)
				if !v.IsGrounded {
					fmt.Fprint(out, " (not grounded)")
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Chunks to retrieve (0 uses the default of 5)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Override the completion model")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Verify the answer against the retrieved excerpts")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}
