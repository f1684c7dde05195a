package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/configs"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented kbindex.yaml and create the knowledge-base directory",
		Long: `Write kbindex.yaml with every option and its default value, then create
the knowledge-base directory it names.

An existing kbindex.yaml is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(root.workDir, "kbindex.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return kberrors.New(kberrors.ErrCodeConfigInvalid,
					fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("Use --force to overwrite it")
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return kberrors.ConfigError(fmt.Sprintf("write %s", path), err)
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.KnowledgeBase.Dir
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(root.workDir, dir)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return kberrors.ConfigError(fmt.Sprintf("create %s", dir), err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
			_, _ = fmt.Fprintf(out, "Add documents to %s, then run 'kbindex index'.\n", dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing kbindex.yaml")

	return cmd
}
