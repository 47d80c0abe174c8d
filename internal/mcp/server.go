package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/apisurface/internal/catalog"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "apisurface"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Crawler runs snapshots on demand. *snapshot.Coordinator implements it.
type Crawler interface {
	RunDates(ctx context.Context, dates []string, force bool) (*snapshot.Summary, error)
	Running() bool
}

// Config wires the server to its dependencies.
type Config struct {
	Repo     string
	Storage  storage.Storage
	Crawler  Crawler       // optional; without it the crawl tool is not registered
	CacheTTL time.Duration // query cache lifetime (default: catalog.DefaultCacheTTL)
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	repo    string
	storage storage.Storage
	catalog *catalog.Catalog
	crawler Crawler
	logger  *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Repo == "" {
		return nil, errors.New("repo is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = catalog.DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcp:     mcpServer,
		repo:    cfg.Repo,
		storage: cfg.Storage,
		catalog: catalog.New(cfg.Storage, cfg.Repo, cfg.CacheTTL),
		crawler: cfg.Crawler,
		logger:  cfg.Logger,
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.storage.Close() }()
	s.logger.Info("serving MCP on stdio", "repo", s.repo, "crawl", s.crawler != nil)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(listSnapshotsTool(), s.handleListSnapshots)
	s.mcp.AddTool(listUnitsTool(), s.handleListUnits)
	s.mcp.AddTool(getUnitAPITool(), s.handleGetUnitAPI)
	s.mcp.AddTool(findAPIConsumersTool(), s.handleFindAPIConsumers)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)

	if s.crawler != nil {
		s.mcp.AddTool(crawlTool(), s.handleCrawl)
	}
	return nil
}
