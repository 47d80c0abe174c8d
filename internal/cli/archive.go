package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/export"
)

func (a *app) exportCommand() *cobra.Command {
	var commit, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a completed snapshot to a zstd-compressed JSONL archive",
		Example: `  apisurface export --out kibana-latest.jsonl.zst
  apisurface export --commit 9f2c1e0 --out - > snapshot.jsonl.zst`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			stats, err := export.Export(cmd.Context(), store, w, export.Options{
				Repo:       a.cfg.Repo,
				CommitHash: commit,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info("snapshot exported",
				"commit", stats.Header.CommitHash, "documents", stats.Total(), "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&commit, "commit", "", "commit to export (default: the latest snapshot)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "archive path, - for stdout")
	return cmd
}

func (a *app) importCommand() *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Load an exported snapshot archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := export.Import(cmd.Context(), store, f, export.Options{
				Repo:      repo,
				BatchSize: a.cfg.Persist.BatchSize,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s@%s: %d documents\n",
				stats.Header.Repo, stats.Header.CommitHash, stats.Total())
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "as", "", "repository to import under (default: the archive's)")
	return cmd
}
