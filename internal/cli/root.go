// Package cli wires the apisurface commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/apisurface/internal/config"
	"github.com/dshills/apisurface/internal/gitrepo"
	"github.com/dshills/apisurface/internal/storage"
)

// Build information, set by main.
type BuildInfo struct {
	Version   string
	BuildTime string
}

// app carries what every command shares once the root has loaded the
// configuration.
type app struct {
	build      BuildInfo
	configFile string
	logLevel   string
	dbPath     string
	repoPath   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the apisurface command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	a := &app{build: build}

	root := &cobra.Command{
		Use:   "apisurface",
		Short: "Plugin API surface extraction and cross-plugin reference index",
		Long: `apisurface extracts the API every plugin of a plugin-based TypeScript
monorepo exposes, finds where other plugins use it, and persists one
snapshot per commit for querying over MCP, export or reports.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: apisurface.toml in . or $XDG_CONFIG_HOME/apisurface)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides db_path)")
	root.PersistentFlags().StringVar(&a.repoPath, "repo-path", "", "repository work tree (overrides repo_path)")

	root.AddCommand(
		a.crawlCommand(),
		a.serveCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.reportCommand(),
		a.unitsCommand(),
		a.statusCommand(),
		a.versionCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, build BuildInfo) int {
	if err := NewRootCommand(build).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.repoPath != "" {
		cfg.RepoPath = a.repoPath
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	// stdout is reserved for command output and the MCP transport.
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	a.cfg = cfg
	return nil
}

func (a *app) openStore() (*storage.SQLiteStorage, error) {
	if a.cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", a.cfg.DBPath, err)
	}
	a.logger.Debug("database opened", "path", a.cfg.DBPath, "driver", storage.DriverName)
	return store, nil
}

// openRepo opens the configured work tree, cloning remote first when the
// tree does not exist.
func (a *app) openRepo(ctx context.Context) (*gitrepo.Repo, error) {
	opts := a.cfg.RepoOptions(a.logger)
	_, err := os.Stat(a.cfg.RepoPath)
	if errors.Is(err, os.ErrNotExist) && a.cfg.Remote != "" {
		return gitrepo.Clone(ctx, a.cfg.Remote, a.cfg.RepoPath, opts)
	}
	return gitrepo.Open(ctx, a.cfg.RepoPath, opts)
}
