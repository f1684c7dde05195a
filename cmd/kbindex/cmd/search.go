package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/ui"
)

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		k          int
		jsonOutput bool
		snippet    int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, cleanup, err := root.setupLogging(cfg, logCLI)
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			resp, err := a.searcher.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}

			out := ui.NewResultsRenderer(cmd.OutOrStdout(), ui.NewConfig(cmd.OutOrStdout()).NoColor, snippet)
			if jsonOutput {
				return out.RenderJSON(resp)
			}
			return out.Render(resp)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default: qdrant.search_k)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON, including the formatted context")
	cmd.Flags().IntVar(&snippet, "snippet", 300, "Shorten passages to this many characters (0 prints them whole)")

	return cmd
}
