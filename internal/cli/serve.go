package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/mcp"
)

func (a *app) serveCommand() *cobra.Command {
	var allowCrawl bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve persisted snapshots over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			cfg := mcp.Config{Repo: a.cfg.Repo, Storage: store, Logger: a.logger}
			if allowCrawl {
				coord, err := a.coordinator(cmd, store)
				if err != nil {
					_ = store.Close()
					return err
				}
				cfg.Crawler = coord
			}

			server, err := mcp.NewServer(cfg)
			if err != nil {
				_ = store.Close()
				return err
			}

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down", "reason", context.Cause(ctx))
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&allowCrawl, "allow-crawl", false, "register the crawl tool (needs the repository work tree)")
	return cmd
}
