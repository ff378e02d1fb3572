package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Remove documents from the index",
		Long: `Delete documents by id, removing their metadata, chunks, and
vectors. Use "scribe status" to list document ids.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			out := cmd.OutOrStdout()
			for _, id := range args {
				if err := app.coordinator.DeleteDocument(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted %s\n", id)
			}
			return nil
		},
	}
	return cmd
}
