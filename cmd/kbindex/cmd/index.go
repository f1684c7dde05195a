package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/ui"
)

const progressInterval = 200 * time.Millisecond

func newIndexCmd(root *rootOptions) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the knowledge-base directory in the foreground",
		Long: `Extract, chunk, embed and store every supported file in the knowledge-base
directory, showing progress until the job finishes.

Ctrl-C stops the job after the file being processed. Re-indexing is
idempotent: unchanged files overwrite their own chunks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			printer := ui.NewProgressPrinter(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(plain)))
			p := runForeground(ctx, a.coord, printer)
			printer.Complete(p)

			if p.State == index.StateFailed {
				if err := a.coord.Err(); err != nil {
					return err
				}
				return kberrors.InternalError("indexing failed", nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per file instead of a progress bar")

	return cmd
}

// foregroundJob is the coordinator surface used by runForeground.
type foregroundJob interface {
	Start() bool
	Stop()
	Progress() index.Progress
	Wait(ctx context.Context) (index.Progress, error)
}

// runForeground starts a job and reports its progress until it exits.
// Cancelling ctx stops the job; the in-flight file is still finished.
func runForeground(ctx context.Context, job foregroundJob, printer *ui.ProgressPrinter) index.Progress {
	job.Start()

	done := make(chan index.Progress, 1)
	go func() {
		p, _ := job.Wait(context.Background())
		done <- p
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for {
		select {
		case p := <-done:
			return p
		case <-ticker.C:
			printer.Update(job.Progress())
		case <-cancelled:
			// nil blocks forever: Stop once, then wait for the in-flight file.
			cancelled = nil
			job.Stop()
		}
	}
}
