package ownership

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/pkg/types"
)

// writeFile creates a file (and its parents) below root.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, ".github/CODEOWNERS", strings.Join([]string{
		"# comment line",
		"/src/plugins/alpha/ @elastic/alpha-team",
		"/src/plugins/beta/ @elastic/beta-team",
		"#CC /x-pack/plugins/gamma/ @elastic/gamma-team",
		"/src/core/ @elastic/platform",
		"/src/plugins/missing/ @elastic/ghosts",
		"/test/plugin_functional/ @elastic/qa",
		"/x-pack/plugins/*/docs @elastic/docs",
	}, "\n"))
	writeFile(t, root, "src/plugins/alpha/kibana.json", "{}")
	writeFile(t, root, "src/plugins/alpha/public/index.ts", "export {}")
	writeFile(t, root, "src/plugins/beta/kibana.json", "{}")
	writeFile(t, root, "x-pack/plugins/gamma/kibana.json", "{}")
	writeFile(t, root, "src/core/public/index.ts", "export {}")
	writeFile(t, root, "test/plugin_functional/plugins/demo/kibana.json", "{}")
	writeFile(t, root, "examples/nested/deep/kibana.json", "{}")
	writeFile(t, root, "examples/nested/deep/public/plugin.ts", "")
	return root
}

func TestParseCodeOwners(t *testing.T) {
	input := strings.Join([]string{
		"/src/plugins/data/ @elastic/kibana-app-arch",
		"#CC /src/legacy/ @elastic/kibana-platform",
		"# plain comment",
		"",
		"src/no/leading/slash @elastic/ignored",
		"/multi/space/path   @elastic/other @elastic/last",
		"/no/org/ team",
	}, "\n")

	entries, err := ParseCodeOwners(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Path: "/src/plugins/data/", Team: "kibana-app-arch"},
		{Path: "/src/legacy/", Team: "kibana-platform"},
		{Path: "/multi/space/path", Team: "last"},
		{Path: "/no/org/", Team: "team"},
	}, entries)
}

func TestBuild(t *testing.T) {
	root := setupRepo(t)

	reg, err := Build(context.Background(), root, Options{})
	require.NoError(t, err)

	names := make([]string, 0)
	for _, u := range reg.AllUnits() {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "core", "gamma"}, names)

	core, ok := reg.Unit("core")
	require.True(t, ok)
	assert.Equal(t, "src/core", core.RootPath)
	assert.Equal(t, "platform", core.TeamOwner)

	gamma, ok := reg.Unit("gamma")
	require.True(t, ok)
	assert.Equal(t, "gamma-team", gamma.TeamOwner)
	assert.Equal(t, "x-pack/plugins/gamma", gamma.RootPath)
}

func TestResolve(t *testing.T) {
	root := setupRepo(t)
	reg, err := Build(context.Background(), root, Options{})
	require.NoError(t, err)

	t.Run("registered unit", func(t *testing.T) {
		u, ok := reg.Resolve("src/plugins/alpha/public/index.ts")
		require.True(t, ok)
		assert.Equal(t, "alpha", u.Name)
		assert.Equal(t, "alpha-team", u.TeamOwner)
	})

	t.Run("sibling with shared prefix is not matched", func(t *testing.T) {
		_, ok := reg.Resolve("src/plugins/alphabet/public/index.ts")
		assert.False(t, ok)
	})

	t.Run("core", func(t *testing.T) {
		u, ok := reg.Resolve("/src/core/server/index.ts")
		require.True(t, ok)
		assert.Equal(t, "core", u.Name)
	})

	t.Run("skipped functional test plugins", func(t *testing.T) {
		_, ok := reg.Resolve("test/plugin_functional/plugins/demo/public/index.ts")
		assert.False(t, ok)
	})

	t.Run("nested fallback synthesizes once", func(t *testing.T) {
		u, ok := reg.Resolve("examples/nested/deep/public/plugin.ts")
		require.True(t, ok)
		assert.Equal(t, types.OwningUnit{Name: "deep", RootPath: "examples/nested/deep"}, u)

		again, ok := reg.Resolve("examples/nested/deep/server/other.ts")
		require.True(t, ok)
		assert.Equal(t, u, again)

		count := 0
		for _, unit := range reg.AllUnits() {
			if unit.RootPath == "examples/nested/deep" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("unowned path", func(t *testing.T) {
		_, ok := reg.Resolve("scripts/build.ts")
		assert.False(t, ok)
	})
}

func TestResolve_NestedDepthBound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/kibana.json", "{}")
	writeFile(t, root, "a/b/c/d/e.ts", "")

	reg, err := New(root, Options{MaxNestedDepth: 2})
	require.NoError(t, err)
	_, ok := reg.Resolve("a/b/c/d/e.ts")
	assert.False(t, ok, "manifest four levels up is beyond the bound")

	reg, err = New(root, Options{MaxNestedDepth: 4})
	require.NoError(t, err)
	u, ok := reg.Resolve("a/b/c/d/e.ts")
	require.True(t, ok)
	assert.Equal(t, "a", u.Name)
}

func TestResolve_ConcurrentFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "plugins/solo/kibana.json", "{}")

	reg, err := New(root, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, ok := reg.Resolve(filepath.ToSlash(filepath.Join("plugins/solo/public", "f"+string(rune('a'+i))+".ts")))
			assert.True(t, ok)
			assert.Equal(t, "solo", u.Name)
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.AllUnits(), 1)
}

func TestAdd_Duplicates(t *testing.T) {
	reg, err := New(t.TempDir(), Options{})
	require.NoError(t, err)

	assert.True(t, reg.Add(types.OwningUnit{Name: "alpha", RootPath: "src/plugins/alpha"}))
	assert.False(t, reg.Add(types.OwningUnit{Name: "alpha", RootPath: "x-pack/plugins/alpha"}))
	assert.False(t, reg.Add(types.OwningUnit{Name: "other", RootPath: "src/plugins/alpha/"}))
	assert.Len(t, reg.AllUnits(), 1)
}
