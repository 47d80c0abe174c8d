// Package mcp implements the Model Context Protocol (MCP) server for apisurface.
//
// The server exposes the persisted snapshots of one repository to AI coding
// assistants:
//   - list_snapshots: List persisted snapshots, newest commit first
//   - list_units: List the plugins of a snapshot with API and reference counts
//   - get_unit_api: List the API a plugin exposes
//   - find_api_consumers: Find the plugins and sites that use an API
//   - get_status: Check snapshot status and dataset statistics
//   - crawl: Extract new snapshots (only when the server is started with a crawler)
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
//	apisurface serve
//	apisurface serve --allow-crawl
//
// # Snapshots
//
// Every read tool accepts an optional "commit". Without it the tool reads the
// latest mirror datasets, which always hold the most recent branch-tip run.
// A commit that has no completed snapshot yields error -32003.
//
// # Tool: get_unit_api
//
//	Request:
//	{
//	  "name": "get_unit_api",
//	  "arguments": {
//	    "unit": "data",
//	    "kind": "start",
//	    "min_refs": 1
//	  }
//	}
//
//	Response:
//	{
//	  "snapshot": {"commit": "9f2c...", "latest": true, ...},
//	  "unit": {"name": "data", "team": "@elastic/kibana-data-discovery", "path": "src/plugins/data"},
//	  "count": 1,
//	  "apis": [
//	    {
//	      "id": "data.public.start.search",
//	      "name": "search",
//	      "kind": "property",
//	      "file": "src/plugins/data/public/types.ts",
//	      "surface": "public",
//	      "static": false,
//	      "lifecycle": "start",
//	      "ref_count": 212
//	    }
//	  ]
//	}
//
// APIs are ordered by ref_count, most used first.
//
// # Tool: find_api_consumers
//
//	Request:
//	{
//	  "name": "find_api_consumers",
//	  "arguments": {
//	    "api_id": "data.public.start.search",
//	    "include_sites": true
//	  }
//	}
//
//	Response:
//	{
//	  "api": {...},
//	  "total_references": 212,
//	  "consumers": [
//	    {"plugin": "discover", "team": "@elastic/kibana-data-discovery", "count": 31},
//	    ...
//	  ],
//	  "sites": [
//	    {"api_id": "data.public.start.search", "plugin": "discover", "file": "src/plugins/discover/public/plugin.tsx", "line": 88},
//	    ...
//	  ]
//	}
//
// With "unit" instead of "api_id" the tool returns the consumers of every
// API of that plugin.
//
// # Tool: crawl
//
// Runs the snapshot pipeline synchronously and returns one result per date:
//
//	{"name": "crawl", "arguments": {"dates": ["2024-01-01", ""], "force": false}}
//
// An empty date is the branch tip. Dates whose commit already has a
// completed snapshot are skipped unless force is set. The query cache is
// dropped after every crawl.
//
// # Error Handling
//
// Errors follow JSON-RPC 2.0 error codes:
//
//	-32602: Invalid parameters (bad surface, kind, limit or date)
//	-32603: Internal error (storage failure)
//	-32001: Unit or API element not found
//	-32002: A crawl is already running
//	-32003: Snapshot not available
//
// # Concurrency
//
// Read tools may run concurrently. The crawl tool is serialized by the
// coordinator; a second call while one runs fails with -32002.
package mcp
