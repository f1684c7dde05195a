// Package cmd provides the CLI commands for kbindex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/config"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/logging"
	"github.com/Aman-CERP/kbindex/internal/profiling"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	workDir    string

	profile  profiling.Options
	profiler *profiling.Session
}

// NewRootCmd creates the root command for the kbindex CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{workDir: "."}

	cmd := &cobra.Command{
		Use:   "kbindex",
		Short: "Knowledge-base indexer and semantic search service",
		Long: `kbindex turns a directory of PDF documents and audio recordings into a
searchable knowledge base: it extracts and transcribes text, splits it into
chunks, embeds them and stores the vectors in Qdrant or a local HNSW index.

The index is served over HTTP and MCP for question-answering assistants.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("kbindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the config file (default: ./kbindex.yaml if present)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.startProfiling
	cmd.PersistentPostRunE = opts.stopProfiling

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newResetCmd(opts))
	cmd.AddCommand(newCompactCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failed command's error.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), kberrors.FormatForCLI(err))
	}
	return err
}

func (o *rootOptions) startProfiling(_ *cobra.Command, _ []string) error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

func (o *rootOptions) stopProfiling(_ *cobra.Command, _ []string) error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	return err
}

// loadConfig reads the configuration for the invoked command.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.workDir, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// logMode selects where a command's logs go.
type logMode int

const (
	// logService writes to the log file and, if configured, stderr.
	logService logMode = iota
	// logCLI writes to the log file only, unless --debug is set, so command
	// output stays readable.
	logCLI
	// logStdio never touches stdout or stderr (MCP stdio transport).
	logStdio
)

// setupLogging installs the process logger and returns its cleanup.
func (o *rootOptions) setupLogging(cfg *config.Config, mode logMode) (*slog.Logger, func(), error) {
	lc := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: cfg.Logging.Stderr,
	}
	var (
		logger  *slog.Logger
		cleanup func()
		err     error
	)
	switch mode {
	case logStdio:
		logger, cleanup, err = logging.FileOnly(lc)
	case logCLI:
		lc.WriteToStderr = o.debug
		logger, cleanup, err = logging.Setup(lc)
	default:
		lc.WriteToStderr = lc.WriteToStderr || o.debug
		logger, cleanup, err = logging.Setup(lc)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// confirm asks a yes/no question on the command's streams.
func confirm(cmd *cobra.Command, question string) bool {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

