package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/apisurface/internal/catalog"
	"github.com/dshills/apisurface/internal/gitrepo"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
	"github.com/dshills/apisurface/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Unit or API element not in the snapshot
	ErrorCodeRunInProgress = -32002 // Another crawl is already running
	ErrorCodeNotIndexed    = -32003 // Requested snapshot not available
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// handleListSnapshots handles the list_snapshots tool invocation
func (s *Server) handleListSnapshots(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	limit := getIntDefault(args, "limit", 20)
	if limit < 1 || limit > 500 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 500", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	snaps, err := s.catalog.Snapshots(ctx, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list snapshots", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make([]map[string]interface{}, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotJSON(snap))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo":      s.repo,
		"count":     len(out),
		"snapshots": out,
	})), nil
}

// handleListUnits handles the list_units tool invocation
func (s *Server) handleListUnits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	commit := getStringDefault(args, "commit", "")

	snap, err := s.resolveSnapshot(ctx, commit)
	if err != nil {
		return nil, err
	}
	units, err := s.catalog.Units(ctx, commit)
	if err != nil {
		return nil, internalError("failed to list units", err)
	}

	out := make([]map[string]interface{}, 0, len(units))
	for _, u := range units {
		out = append(out, map[string]interface{}{
			"name":      u.Name,
			"team":      u.TeamOwner,
			"path":      u.RootPath,
			"api_count": u.APICount,
			"ref_count": u.RefCount,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"snapshot": snapshotJSON(snap),
		"count":    len(out),
		"units":    out,
	})), nil
}

// handleGetUnitAPI handles the get_unit_api tool invocation
func (s *Server) handleGetUnitAPI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	unit, ok := args["unit"].(string)
	if !ok || unit == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "unit parameter is required", map[string]interface{}{
			"param":  "unit",
			"reason": "missing or empty",
		})
	}
	commit := getStringDefault(args, "commit", "")

	filter := catalog.APIFilter{MinRefs: getIntDefault(args, "min_refs", 0), OrderRef: true}
	switch surface := getStringDefault(args, "surface", ""); surface {
	case "":
	case string(types.SurfacePublic), string(types.SurfaceServer):
		filter.Surface = types.Surface(surface)
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid surface", map[string]interface{}{
			"param":   "surface",
			"value":   surface,
			"allowed": []string{"public", "server"},
		})
	}
	switch kind := getStringDefault(args, "kind", ""); kind {
	case "":
	case "static":
		static := true
		filter.Static = &static
	case string(types.StageSetup), string(types.StageStart):
		contract := false
		filter.Static = &contract
		filter.Stage = types.Stage(kind)
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
			"param":   "kind",
			"value":   kind,
			"allowed": []string{"static", "setup", "start"},
		})
	}

	snap, err := s.resolveSnapshot(ctx, commit)
	if err != nil {
		return nil, err
	}
	unitDoc, err := s.findUnit(ctx, commit, unit)
	if err != nil {
		return nil, err
	}

	apis, err := s.catalog.UnitAPI(ctx, commit, unit, filter)
	if err != nil {
		return nil, internalError("failed to query api", err)
	}
	out := make([]map[string]interface{}, 0, len(apis))
	for _, a := range apis {
		out = append(out, apiJSON(a))
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"snapshot": snapshotJSON(snap),
		"unit": map[string]interface{}{
			"name": unitDoc.Name,
			"team": unitDoc.TeamOwner,
			"path": unitDoc.RootPath,
		},
		"count": len(out),
		"apis":  out,
	})), nil
}

// handleFindAPIConsumers handles the find_api_consumers tool invocation
func (s *Server) handleFindAPIConsumers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	apiID := getStringDefault(args, "api_id", "")
	unit := getStringDefault(args, "unit", "")
	if apiID == "" && unit == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "api_id or unit parameter is required", map[string]interface{}{
			"param":  "api_id",
			"reason": "missing or empty",
		})
	}
	commit := getStringDefault(args, "commit", "")
	includeSites := getBoolDefault(args, "include_sites", false)

	snap, err := s.resolveSnapshot(ctx, commit)
	if err != nil {
		return nil, err
	}

	response := map[string]interface{}{"snapshot": snapshotJSON(snap)}
	var refs []snapshot.ReferenceDocument
	if apiID != "" {
		api, err := s.catalog.API(ctx, commit, apiID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newMCPError(ErrorCodeNotFound, "api element not found", map[string]interface{}{
				"api_id": apiID,
			})
		}
		if err != nil {
			return nil, internalError("failed to query api", err)
		}
		response["api"] = apiJSON(*api)
		if refs, err = s.catalog.Consumers(ctx, commit, apiID); err != nil {
			return nil, internalError("failed to query references", err)
		}
	} else {
		if _, err := s.findUnit(ctx, commit, unit); err != nil {
			return nil, err
		}
		response["unit"] = unit
		if refs, err = s.catalog.UnitConsumers(ctx, commit, unit); err != nil {
			return nil, internalError("failed to query references", err)
		}
	}

	response["total_references"] = len(refs)
	response["consumers"] = catalog.ByConsumer(refs)
	if includeSites {
		sites := make([]map[string]interface{}, 0, len(refs))
		for _, r := range refs {
			sites = append(sites, map[string]interface{}{
				"api_id": r.Source.APIID,
				"plugin": r.Reference.Unit,
				"team":   r.Reference.TeamOwner,
				"file":   r.Reference.FilePath,
				"line":   r.Reference.Line,
			})
		}
		response["sites"] = sites
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx, s.repo)
	if err != nil {
		return nil, internalError("failed to get status", err)
	}

	indexes := make([]map[string]interface{}, 0, len(status.Indexes))
	for _, idx := range status.Indexes {
		indexes = append(indexes, map[string]interface{}{
			"name":      idx.Name,
			"documents": idx.Documents,
			"commits":   idx.Commits,
		})
	}

	response := map[string]interface{}{
		"repo":    s.repo,
		"indexed": status.Latest != nil,
		"statistics": map[string]interface{}{
			"snapshots":     status.Snapshots,
			"completed":     status.Completed,
			"indexes":       indexes,
			"index_size_mb": fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"latest_available":    status.Health.LatestAvailable,
		},
		"crawl_running": s.crawler != nil && s.crawler.Running(),
	}
	if status.Latest != nil {
		response["latest"] = snapshotJSON(status.Latest)
	} else {
		response["message"] = "Repository not indexed. Use the crawl tool or `apisurface crawl` to create a snapshot."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCrawl handles the crawl tool invocation
func (s *Server) handleCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var dates []string
	if raw, ok := args["dates"].([]interface{}); ok {
		dates = make([]string, 0, len(raw))
		for _, v := range raw {
			d, ok := v.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, "dates must be strings", map[string]interface{}{
					"param": "dates",
					"value": v,
				})
			}
			if d != "" {
				if _, err := gitrepo.ParseDate(d); err != nil {
					return nil, newMCPError(ErrorCodeInvalidParams, "invalid date", map[string]interface{}{
						"param":  "dates",
						"value":  d,
						"reason": err.Error(),
					})
				}
			}
			dates = append(dates, d)
		}
	}
	force := getBoolDefault(args, "force", false)

	sum, err := s.crawler.RunDates(ctx, dates, force)
	if errors.Is(err, snapshot.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeRunInProgress, "a crawl is already running", nil)
	}
	if err != nil {
		return nil, internalError("crawl failed", err)
	}
	s.catalog.InvalidateCache()

	results := make([]map[string]interface{}, 0, len(sum.Results))
	for _, r := range sum.Results {
		res := map[string]interface{}{
			"date":        r.Date,
			"commit":      r.Snapshot.CommitHash,
			"state":       r.State,
			"skipped":     r.Skipped,
			"apis":        r.APIs,
			"references":  r.Refs,
			"units":       r.Units,
			"collisions":  len(r.Collisions),
			"warnings":    r.Warnings,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			res["error"] = r.Err.Error()
		}
		results = append(results, res)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"run_id":      sum.RunID,
		"failed":      sum.Failed(),
		"results":     results,
		"duration_ms": sum.Duration.Milliseconds(),
	})), nil
}

// Helper functions

// resolveSnapshot maps a missing snapshot to ErrorCodeNotIndexed.
func (s *Server) resolveSnapshot(ctx context.Context, commit string) (*storage.SnapshotRecord, error) {
	snap, err := s.catalog.Snapshot(ctx, commit)
	if errors.Is(err, catalog.ErrNoSnapshot) {
		data := map[string]interface{}{"repo": s.repo}
		if commit != "" {
			data["commit"] = commit
		}
		return nil, newMCPError(ErrorCodeNotIndexed, "snapshot not available", data)
	}
	if err != nil {
		return nil, internalError("failed to read snapshot", err)
	}
	return snap, nil
}

func (s *Server) findUnit(ctx context.Context, commit, name string) (*snapshot.UnitDocument, error) {
	units, err := s.catalog.Units(ctx, commit)
	if err != nil {
		return nil, internalError("failed to list units", err)
	}
	for i := range units {
		if units[i].Name == name {
			return &units[i], nil
		}
	}
	return nil, newMCPError(ErrorCodeNotFound, "unit not found", map[string]interface{}{
		"unit": name,
	})
}

func snapshotJSON(snap *storage.SnapshotRecord) map[string]interface{} {
	out := map[string]interface{}{
		"commit":      snap.CommitHash,
		"commit_date": snap.CommitDate.Format(timeFormat),
		"latest":      snap.IsLatest,
		"status":      snap.Status,
		"apis":        snap.APICount,
		"references":  snap.RefCount,
		"units":       snap.UnitCount,
	}
	if snap.CheckoutDate != "" {
		out["checkout_date"] = snap.CheckoutDate
	}
	if !snap.CompletedAt.IsZero() {
		out["completed_at"] = snap.CompletedAt.Format(timeFormat)
	}
	if snap.Error != "" {
		out["error"] = snap.Error
	}
	return out
}

func apiJSON(a snapshot.APIDocument) map[string]interface{} {
	out := map[string]interface{}{
		"id":        a.ID,
		"name":      a.Name,
		"kind":      a.Kind,
		"file":      a.FilePath,
		"surface":   a.Surface,
		"static":    a.IsStatic,
		"ref_count": a.CrossBoundaryRefCount,
	}
	if a.Stage != types.StageNone {
		out["lifecycle"] = a.Stage
	}
	return out
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
