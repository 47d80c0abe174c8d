package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/catalog"
	"github.com/dshills/apisurface/internal/report"
)

func (a *app) reportCommand() *cobra.Command {
	var (
		opts   report.Options
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the API surface of a snapshot and its consumers",
		Example: `  apisurface report --unit data --unit discover
  apisurface report --format html --out surface.html --unused`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rep, err := report.Build(cmd.Context(), catalog.New(store, a.cfg.Repo, 0), opts)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return rep.Write(w, report.Format(format))
		},
	}
	cmd.Flags().StringVar(&opts.CommitHash, "commit", "", "snapshot commit (default: latest)")
	cmd.Flags().StringArrayVar(&opts.Units, "unit", nil, "plugin to include; repeatable (default: all)")
	cmd.Flags().IntVar(&opts.Top, "top", 5, "consumers listed per API")
	cmd.Flags().BoolVar(&opts.Unused, "unused", false, "include APIs no other plugin references")
	cmd.Flags().StringVar(&format, "format", string(report.FormatMarkdown), "markdown or html")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output path, - for stdout")
	return cmd
}
