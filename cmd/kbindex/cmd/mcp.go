package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the knowledge base to AI assistants over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout with the tools
search_knowledge, index_status, start_indexing and stop_indexing.

stdout carries JSON-RPC only; logs go to the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, cleanup, err := root.setupLogging(cfg, logStdio)
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			srv, err := mcp.NewServer(a.searcher, a.coord, a.store, a.embedder, logger)
			if err != nil {
				return err
			}
			if cfg.Indexer.StartOnStartup {
				a.coord.Start()
			}
			return srv.Serve(ctx)
		},
	}
}
