package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/store"
)

func newResetCmd(root *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every chunk from the vector collection",
		Long: `Delete every point of the configured collection. The collection itself is
kept, so the next index run starts from empty.

Refused while another process is indexing the same data directory. Use
POST /reset instead while 'kbindex serve' is running with a local store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, cleanup, err := root.setupLogging(cfg, logCLI)
			if err != nil {
				return err
			}
			defer cleanup()

			if !yes && !confirm(cmd, fmt.Sprintf("Delete every chunk in collection %q?", cfg.Qdrant.Collection)) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			lock := index.NewDirLock(cfg.Indexer.DataDir)
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			st, err := store.Open(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Reset(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Collection %q reset.\n", cfg.Qdrant.Collection)
			return err
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}
