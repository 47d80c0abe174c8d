package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/gitrepo"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
)

func (a *app) crawlCommand() *cobra.Command {
	var (
		dates []string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Extract and persist snapshots of the repository",
		Long: `Checks out the commit each checkout date designates, extracts the API
surface of every plugin and their cross-plugin references, and persists
the snapshot. An empty date (or "latest") is the branch tip, which also
refreshes the latest mirror datasets.`,
		Example: `  apisurface crawl
  apisurface crawl --date 2024-01-01 --date 2024-06-01 --date latest
  CHECKOUT_DATES=2024-01-01,2024-06-01 apisurface crawl --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var override []string
			if cmd.Flags().Changed("date") {
				override = make([]string, 0, len(dates))
				for _, d := range dates {
					if d == "latest" {
						d = ""
					}
					if d != "" {
						if _, err := gitrepo.ParseDate(d); err != nil {
							return err
						}
					}
					override = append(override, d)
				}
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			coord, err := a.coordinator(cmd, store)
			if err != nil {
				return err
			}
			sum, err := coord.RunDates(ctx, override, force || a.cfg.Force)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			if n := sum.Failed(); n > 0 {
				return fmt.Errorf("%d of %d dates failed", n, len(sum.Results))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&dates, "date", nil, "checkout date YYYY-MM-DD or latest; repeatable (default: checkout_dates)")
	cmd.Flags().BoolVar(&force, "force", false, "re-extract commits that already have a completed snapshot")
	return cmd
}

func (a *app) coordinator(cmd *cobra.Command, store storage.Storage) (*snapshot.Coordinator, error) {
	repo, err := a.openRepo(cmd.Context())
	if err != nil {
		return nil, err
	}
	return snapshot.New(repo, store, a.cfg.CoordinatorOptions(a.logger)), nil
}

func printSummary(w io.Writer, sum *snapshot.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCOMMIT\tSTATE\tAPIS\tREFS\tUNITS\tWARNINGS\tDURATION\tERROR")
	for _, r := range sum.Results {
		date := r.Date
		if date == "" {
			date = "latest"
		}
		state := string(r.State)
		if r.Skipped {
			state = "SKIPPED"
		}
		errText := "-"
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			date, shortHash(r.Snapshot.CommitHash), state, r.APIs, r.Refs, r.Units, r.Warnings,
			r.Duration.Round(time.Millisecond), errText)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "run %s finished in %s\n", sum.RunID, sum.Duration.Round(time.Millisecond))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}
