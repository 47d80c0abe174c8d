package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// commitProperty is shared by every tool reading a snapshot.
var commitProperty = map[string]interface{}{
	"type":        "string",
	"description": "Commit hash of a completed snapshot (default: the latest snapshot)",
}

// listSnapshotsTool returns the tool definition for list_snapshots
func listSnapshotsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_snapshots",
		Description: "List the persisted snapshots of the repository, newest commit first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of snapshots to return (1-500)",
					"default":     20,
					"minimum":     1,
					"maximum":     500,
				},
			},
		},
	}
}

// listUnitsTool returns the tool definition for list_units
func listUnitsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_units",
		Description: "List the plugins of a snapshot with their owning team, API count and cross-plugin reference count",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"commit": commitProperty,
			},
		},
	}
}

// getUnitAPITool returns the tool definition for get_unit_api
func getUnitAPITool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_unit_api",
		Description: "List the API a plugin exposes to other plugins: static exports of its index modules and the members of its setup/start contracts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"unit": map[string]interface{}{
					"type":        "string",
					"description": "Plugin name (e.g. 'data')",
				},
				"commit": commitProperty,
				"surface": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to browser-side or server-side API",
					"enum":        []string{"public", "server"},
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "static for index exports, setup or start for lifecycle contract members",
					"enum":        []string{"static", "setup", "start"},
				},
				"min_refs": map[string]interface{}{
					"type":        "integer",
					"description": "Only APIs with at least this many cross-plugin references",
					"default":     0,
					"minimum":     0,
				},
			},
			Required: []string{"unit"},
		},
	}
}

// findAPIConsumersTool returns the tool definition for find_api_consumers
func findAPIConsumersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_api_consumers",
		Description: "Find where other plugins use an API element, or every API of a plugin",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"api_id": map[string]interface{}{
					"type":        "string",
					"description": "API element id (<plugin>.<public|server>[.<setup|start>].<name>)",
				},
				"unit": map[string]interface{}{
					"type":        "string",
					"description": "Plugin name; returns consumers of all its APIs (ignored when api_id is set)",
				},
				"commit": commitProperty,
				"include_sites": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, list every referencing file and line, not only per-plugin counts",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query snapshot status and dataset statistics for the repository",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// crawlTool returns the tool definition for crawl
func crawlTool() mcp.Tool {
	return mcp.Tool{
		Name:        "crawl",
		Description: "Extract and persist snapshots of the repository. Synchronous; returns when every date is processed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"dates": map[string]interface{}{
					"type":        "array",
					"description": "Checkout dates (YYYY-MM-DD); an empty string is the branch tip. Default: the configured dates",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-extract commits that already have a completed snapshot",
					"default":     false,
				},
			},
		},
	}
}
