package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/internal/catalog/catalogtest"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
)

// mockCrawler records crawl requests.
type mockCrawler struct {
	mu      sync.Mutex
	dates   [][]string
	force   []bool
	err     error
	running bool
}

func (m *mockCrawler) RunDates(ctx context.Context, dates []string, force bool) (*snapshot.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dates = append(m.dates, dates)
	m.force = append(m.force, force)
	if m.err != nil {
		return nil, m.err
	}
	sum := &snapshot.Summary{RunID: "run-1"}
	for _, d := range dates {
		res := snapshot.DateResult{Date: d, State: snapshot.StateDone, APIs: 3}
		if d == "2020-01-01" {
			res.State = snapshot.StateCheckout
			res.Err = errors.New("no commit before date")
		}
		sum.Results = append(sum.Results, res)
	}
	return sum, nil
}

func (m *mockCrawler) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func newTestServer(t *testing.T, seed bool, crawler Crawler) *Server {
	t.Helper()
	store := catalogtest.NewStore(t)
	if seed {
		catalogtest.Seed(t, store)
	}
	s, err := NewServer(Config{Repo: catalogtest.Repo, Storage: store, Crawler: crawler, CacheTTL: -1})
	require.NoError(t, err)
	return s
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, res.Content, 1)
	var text string
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content %T", c)
	}
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out, nil
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func TestNewServer(t *testing.T) {
	t.Run("requires storage and repo", func(t *testing.T) {
		_, err := NewServer(Config{Repo: "a/b"})
		assert.Error(t, err)
		_, err = NewServer(Config{Storage: catalogtest.NewStore(t)})
		assert.Error(t, err)
	})

	t.Run("server has all required components", func(t *testing.T) {
		s := newTestServer(t, false, nil)
		assert.NotNil(t, s.mcp, "MCP server should be initialized")
		assert.NotNil(t, s.storage, "Storage should be initialized")
		assert.NotNil(t, s.catalog, "Catalog should be initialized")
		assert.Nil(t, s.crawler)
	})
}

func TestListSnapshots(t *testing.T) {
	s := newTestServer(t, true, nil)

	out, err := call(t, s.handleListSnapshots, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["count"])
	snaps := out["snapshots"].([]interface{})
	first := snaps[0].(map[string]interface{})
	assert.Equal(t, catalogtest.LatestCommit, first["commit"])
	assert.Equal(t, true, first["latest"])
	assert.Equal(t, "completed", first["status"])
	second := snaps[1].(map[string]interface{})
	assert.Equal(t, "2024-01-11", second["checkout_date"])

	out, err = call(t, s.handleListSnapshots, map[string]interface{}{"limit": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["count"])

	_, err = call(t, s.handleListSnapshots, map[string]interface{}{"limit": float64(0)})
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestListUnits(t *testing.T) {
	s := newTestServer(t, true, nil)
	out, err := call(t, s.handleListUnits, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["count"])
	alpha := out["units"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "alpha", alpha["name"])
	assert.Equal(t, "team-a", alpha["team"])
	assert.Equal(t, float64(3), alpha["api_count"])
	assert.Equal(t, float64(4), alpha["ref_count"])
}

func TestGetUnitAPI(t *testing.T) {
	s := newTestServer(t, true, nil)

	t.Run("latest", func(t *testing.T) {
		out, err := call(t, s.handleGetUnitAPI, map[string]interface{}{"unit": "alpha"})
		require.NoError(t, err)
		assert.Equal(t, float64(3), out["count"])
		apis := out["apis"].([]interface{})
		top := apis[0].(map[string]interface{})
		assert.Equal(t, "alpha.public.doThing", top["id"])
		assert.Equal(t, float64(3), top["ref_count"])
		assert.Equal(t, "team-a", out["unit"].(map[string]interface{})["team"])
	})

	t.Run("filters", func(t *testing.T) {
		out, err := call(t, s.handleGetUnitAPI, map[string]interface{}{"unit": "alpha", "kind": "start"})
		require.NoError(t, err)
		apis := out["apis"].([]interface{})
		require.Len(t, apis, 1)
		assert.Equal(t, "start", apis[0].(map[string]interface{})["lifecycle"])

		out, err = call(t, s.handleGetUnitAPI, map[string]interface{}{"unit": "alpha", "surface": "server"})
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["count"])

		out, err = call(t, s.handleGetUnitAPI, map[string]interface{}{"unit": "alpha", "commit": catalogtest.OldCommit, "min_refs": float64(1)})
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["count"])
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			args map[string]interface{}
			code int
		}{
			{"missing unit", map[string]interface{}{}, ErrorCodeInvalidParams},
			{"bad surface", map[string]interface{}{"unit": "alpha", "surface": "mobile"}, ErrorCodeInvalidParams},
			{"bad kind", map[string]interface{}{"unit": "alpha", "kind": "stop"}, ErrorCodeInvalidParams},
			{"unknown unit", map[string]interface{}{"unit": "delta"}, ErrorCodeNotFound},
			{"unknown commit", map[string]interface{}{"unit": "alpha", "commit": "feed"}, ErrorCodeNotIndexed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := call(t, s.handleGetUnitAPI, tt.args)
				requireCode(t, err, tt.code)
			})
		}
	})
}

func TestFindAPIConsumers(t *testing.T) {
	s := newTestServer(t, true, nil)

	t.Run("by api", func(t *testing.T) {
		out, err := call(t, s.handleFindAPIConsumers, map[string]interface{}{
			"api_id":        "alpha.public.doThing",
			"include_sites": true,
		})
		require.NoError(t, err)
		assert.Equal(t, float64(3), out["total_references"])
		consumers := out["consumers"].([]interface{})
		require.Len(t, consumers, 2)
		assert.Equal(t, map[string]interface{}{"plugin": "beta", "team": "team-b", "count": float64(2)}, consumers[0])
		sites := out["sites"].([]interface{})
		require.Len(t, sites, 3)
		assert.Equal(t, "alpha.public.doThing", sites[0].(map[string]interface{})["api_id"])
	})

	t.Run("by unit at a dated commit", func(t *testing.T) {
		out, err := call(t, s.handleFindAPIConsumers, map[string]interface{}{
			"unit":   "alpha",
			"commit": catalogtest.OldCommit,
		})
		require.NoError(t, err)
		assert.Equal(t, float64(2), out["total_references"])
		assert.Nil(t, out["sites"])
	})

	t.Run("errors", func(t *testing.T) {
		_, err := call(t, s.handleFindAPIConsumers, map[string]interface{}{})
		requireCode(t, err, ErrorCodeInvalidParams)

		_, err = call(t, s.handleFindAPIConsumers, map[string]interface{}{"api_id": "alpha.public.nothing"})
		requireCode(t, err, ErrorCodeNotFound)

		_, err = call(t, s.handleFindAPIConsumers, map[string]interface{}{"unit": "delta"})
		requireCode(t, err, ErrorCodeNotFound)
	})
}

func TestGetStatus(t *testing.T) {
	t.Run("not indexed", func(t *testing.T) {
		s := newTestServer(t, false, nil)
		out, err := call(t, s.handleGetStatus, nil)
		require.NoError(t, err)
		assert.Equal(t, false, out["indexed"])
		assert.Contains(t, out["message"], "crawl")
		assert.Equal(t, false, out["crawl_running"])
	})

	t.Run("indexed", func(t *testing.T) {
		s := newTestServer(t, true, &mockCrawler{running: true})
		out, err := call(t, s.handleGetStatus, nil)
		require.NoError(t, err)
		assert.Equal(t, true, out["indexed"])
		assert.Equal(t, catalogtest.LatestCommit, out["latest"].(map[string]interface{})["commit"])
		assert.Equal(t, true, out["crawl_running"])

		stats := out["statistics"].(map[string]interface{})
		assert.Equal(t, float64(2), stats["completed"])
		assert.Len(t, stats["indexes"], 6)
		health := out["health"].(map[string]interface{})
		assert.Equal(t, true, health["latest_available"])
	})
}

func TestCrawl(t *testing.T) {
	crawler := &mockCrawler{}
	s := newTestServer(t, false, crawler)

	out, err := call(t, s.handleCrawl, map[string]interface{}{
		"dates": []interface{}{"2024-01-01", "2020-01-01", ""},
		"force": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", out["run_id"])
	assert.Equal(t, float64(1), out["failed"])
	results := out["results"].([]interface{})
	require.Len(t, results, 3)
	assert.Equal(t, "no commit before date", results[1].(map[string]interface{})["error"])
	assert.Equal(t, []string{"2024-01-01", "2020-01-01", ""}, crawler.dates[0])
	assert.True(t, crawler.force[0])

	t.Run("configured dates", func(t *testing.T) {
		_, err := call(t, s.handleCrawl, nil)
		require.NoError(t, err)
		assert.Nil(t, crawler.dates[1])
		assert.False(t, crawler.force[1])
	})

	t.Run("invalid dates", func(t *testing.T) {
		_, err := call(t, s.handleCrawl, map[string]interface{}{"dates": []interface{}{"last week"}})
		requireCode(t, err, ErrorCodeInvalidParams)
		_, err = call(t, s.handleCrawl, map[string]interface{}{"dates": []interface{}{float64(3)}})
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("run in progress", func(t *testing.T) {
		busy := newTestServer(t, false, &mockCrawler{err: snapshot.ErrRunInProgress})
		_, err := call(t, busy.handleCrawl, nil)
		requireCode(t, err, ErrorCodeRunInProgress)
	})
}

func TestCrawl_InvalidatesCache(t *testing.T) {
	store := catalogtest.NewStore(t)
	catalogtest.Seed(t, store)
	s, err := NewServer(Config{Repo: catalogtest.Repo, Storage: store, Crawler: &mockCrawler{}})
	require.NoError(t, err)

	out, err := call(t, s.handleListUnits, nil)
	require.NoError(t, err)
	require.Equal(t, float64(3), out["count"])

	_, err = store.DeleteIndex(context.Background(), storage.IndexName(storage.PrefixUnits, catalogtest.Repo, true))
	require.NoError(t, err)
	out, err = call(t, s.handleListUnits, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["count"], "cached")

	_, err = call(t, s.handleCrawl, map[string]interface{}{"dates": []interface{}{""}})
	require.NoError(t, err)
	out, err = call(t, s.handleListUnits, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(0), out["count"])
}
