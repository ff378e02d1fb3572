package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scribe-rag/scribe/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the HTTP API: document ingestion, semantic search, ask,
and collection management. The server drains in-flight requests on
SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if addr != "" {
				app.cfg.Server.Addr = addr
			}

			srv := server.New(app.coordinator, app.engine, app.askSvc, app.meta,
				app.recorder, app.cfg.Server, app.logger)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SERVER_ADDR)")
	return cmd
}
