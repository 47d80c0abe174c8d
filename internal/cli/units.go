package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/catalog"
	"github.com/dshills/apisurface/internal/storage"
)

func (a *app) unitsCommand() *cobra.Command {
	var commit string
	cmd := &cobra.Command{
		Use:   "units",
		Short: "List the plugins of a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c := catalog.New(store, a.cfg.Repo, 0)
			if _, err := c.Snapshot(cmd.Context(), commit); err != nil {
				return err
			}
			units, err := c.Units(cmd.Context(), commit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tTEAM\tPATH\tAPIS\tREFS")
			for _, u := range units {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", u.Name, orDash(u.TeamOwner), u.RootPath, u.APICount, u.RefCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&commit, "commit", "", "snapshot commit (default: latest)")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show persisted snapshots and dataset sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			st, err := store.GetStatus(cmd.Context(), a.cfg.Repo)
			if err != nil {
				return err
			}
			snaps, err := store.ListSnapshots(cmd.Context(), a.cfg.Repo, 20)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "repo: %s\ndatabase: %s (%.2f MB)\nsnapshots: %d (%d completed)\n",
				a.cfg.Repo, a.cfg.DBPath, st.IndexSizeMB, st.Snapshots, st.Completed)
			if st.Latest != nil {
				fmt.Fprintf(w, "latest: %s (%s)\n", st.Latest.CommitHash, st.Latest.CommitDate.Format("2006-01-02"))
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nCOMMIT\tDATE\tCHECKOUT\tSTATUS\tAPIS\tREFS\tUNITS")
			for _, s := range snaps {
				checkout := s.CheckoutDate
				if s.IsLatest {
					checkout = "latest"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n", shortHash(s.CommitHash),
					s.CommitDate.Format("2006-01-02"), orDash(checkout), s.Status, s.APICount, s.RefCount, s.UnitCount)
			}
			fmt.Fprintln(tw, "\nINDEX\tDOCUMENTS\tCOMMITS")
			for _, idx := range st.Indexes {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", idx.Name, idx.Documents, idx.Commits)
			}
			return tw.Flush()
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "apisurface\n")
			fmt.Fprintf(w, "Version: %s\n", a.build.Version)
			fmt.Fprintf(w, "Build Time: %s\n", a.build.BuildTime)
			fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
