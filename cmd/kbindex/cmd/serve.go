package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbindex/internal/api"
	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/watcher"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// shutdownTimeout bounds the graceful stop of the server and the job.
const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	addr    string
	noWatch bool
	noStart bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, if enabled, the knowledge-base watcher",
		Long: `Serve the knowledge base over HTTP:

  GET  /status        indexing state and progress
  POST /index         start indexing in the background
  POST /stop          stop the running job after its current file
  POST /search        {"query": "...", "k": 5}
  POST /reset         delete every indexed chunk
  GET  /files/{name}  download a knowledge-base file
  GET  /healthz       embedder and store reachability
  GET  /metrics       Prometheus metrics
  GET  /stats         search query statistics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default: server.host:server.port)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not watch the knowledge-base directory")
	cmd.Flags().BoolVar(&opts.noStart, "no-start", false, "Do not index on startup")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := root.setupLogging(cfg, logService)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("Shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	addr := opts.addr
	if addr == "" {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}
	server, err := api.New(api.Options{
		Addr:     addr,
		Version:  version.Version,
		Indexer:  a.coord,
		Searcher: a.searcher,
		Store:    a.store,
		Files:    a.source,
		Embedder: a.embedder,
		Metrics:  a.metrics,
		Stats:    a.stats,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(stopCtx)
	})

	if cfg.KnowledgeBase.Watch && !opts.noWatch {
		startWatching(gctx, g, cfg, a, logger)
	}

	if cfg.Indexer.StartOnStartup && !opts.noStart {
		a.coord.Start()
	}

	logger.Info("kbindex ready",
		slog.String("addr", addr),
		slog.String("knowledge_base", cfg.KnowledgeBase.Dir),
		slog.String("store", cfg.Store.Backend),
		slog.String("display_name", cfg.Server.DisplayName))

	return g.Wait()
}

// startWatching runs the debounced directory watcher and the trigger that
// turns its batches into Coordinator.Start calls. A watcher that cannot
// start only disables watch mode; the API keeps serving.
func startWatching(ctx context.Context, g *errgroup.Group, cfg *config.Config, a *app, logger *slog.Logger) {
	w := watcher.New(watcher.Options{DebounceWindow: cfg.KnowledgeBase.WatchDebounce}.WithDefaults(), logger)
	trigger := watcher.NewTrigger(a.coord, 0, logger)

	g.Go(func() error {
		if err := w.Run(ctx, cfg.KnowledgeBase.Dir); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Watch mode disabled",
				slog.String("dir", cfg.KnowledgeBase.Dir),
				slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		return trigger.Run(ctx, w.Events())
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-w.Errors():
				if !ok {
					return nil
				}
				logger.Warn("Watcher error", slog.String("error", err.Error()))
			}
		}
	})
}
