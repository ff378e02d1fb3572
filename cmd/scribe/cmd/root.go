// Package cmd provides the CLI commands for scribe.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/pkg/version"
)

// NewRootCmd creates the root command for the scribe CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "Document RAG service: ingest, search, and ask over your files",
		Long: `Scribe ingests documents (txt, md, pdf, docx, pptx, xlsx, csv,
html, json, rtf), indexes them for semantic search, and answers
questions grounded in their content.

Configuration comes from the environment (and an optional .env file);
LITELLM_API_KEY is required. See the README for the full list.`,
		Version:      version.String(),
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the CLI under a signal-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
