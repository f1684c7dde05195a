package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/store"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
	"github.com/Aman-CERP/kbindex/internal/ui"
)

const (
	statusProbeTimeout = 5 * time.Second
	statusRecentRuns   = 5
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge-base, store and embedder status",
		Long: `Show how many files the knowledge base holds, how many chunks the vector
store contains, whether the embedding backend is reachable and the outcome
of the last indexing runs.

Unreachable backends are reported, not treated as errors.`,
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

			info := collectStatus(cmd.Context(), cfg, logger)

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.NewConfig(cmd.OutOrStdout()).NoColor)
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

// collectStatus probes each component independently so one unreachable
// backend does not hide the others.
func collectStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) ui.StatusInfo {
	info := ui.StatusInfo{
		KnowledgeBase:  cfg.KnowledgeBase.Dir,
		Backend:        cfg.Store.Backend,
		Collection:     cfg.Qdrant.Collection,
		EmbedderModel:  cfg.Embedding.Model,
		EmbedderDims:   cfg.Embedding.VectorSize,
		StoreStatus:    "ready",
		EmbedderStatus: "offline",
	}

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	if files, err := index.NewSource(cfg.KnowledgeBase.Dir, cfg.KnowledgeBase.PublicURL).List(ctx); err == nil {
		info.Files = len(files)
	}

	if st, err := store.Open(ctx, cfg, logger, nil); err != nil {
		info.StoreStatus = "error"
		info.StoreError = err.Error()
	} else {
		if info.TotalChunks, err = st.Count(ctx); err != nil {
			info.StoreStatus = "error"
			info.StoreError = err.Error()
		}
		_ = st.Close()
	}

	if backend, err := embed.NewBackend(ctx, cfg.Embedding); err == nil {
		info.EmbedderModel = backend.ModelName()
		info.EmbedderDims = backend.Dimensions()
		if backend.Available(ctx) {
			info.EmbedderStatus = "ready"
		}
		_ = backend.Close()
	} else {
		logger.Debug("Embedder unavailable", slog.String("error", err.Error()))
	}

	ledgerPath := filepath.Join(cfg.Indexer.DataDir, ledgerFile)
	if _, err := os.Stat(ledgerPath); err == nil {
		if ledger, err := telemetry.OpenRunLedger(ledgerPath); err == nil {
			info.RecentRuns, _ = ledger.RecentRuns(ctx, statusRecentRuns)
			_ = ledger.Close()
		}
	}

	return info
}
