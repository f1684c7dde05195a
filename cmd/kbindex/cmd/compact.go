package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/store"
)

func newCompactCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the local vector index without overwritten nodes",
		Long: `Rebuild the hnsw backend's graph from its live points, dropping the nodes
left behind when re-indexing overwrote chunks. No re-embedding is needed.

The index also compacts itself once overwritten nodes outnumber live ones.
Other backends have nothing to compact. Refused while another process is
indexing the same data directory.`,
		Args: cobra.NoArgs,
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

			removed, err := st.Compact(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Collection %q compacted: %d overwritten nodes removed.\n",
				cfg.Qdrant.Collection, removed)
			return err
		},
	}
}
