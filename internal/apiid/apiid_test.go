package apiid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/apisurface/pkg/types"
)

func TestID(t *testing.T) {
	tests := []struct {
		name    string
		unit    string
		surface types.Surface
		stage   types.Stage
		elem    string
		want    string
	}{
		{"static export", "alpha", types.SurfacePublic, types.StageNone, "doThing", "alpha.public.doThing"},
		{"setup contract", "data", types.SurfacePublic, types.StageSetup, "search", "data.public.setup.search"},
		{"start contract on server", "data", types.SurfaceServer, types.StageStart, "search", "data.server.start.search"},
		{"degenerate module export", "beta", types.SurfaceServer, types.StageNone, "src/plugins/beta/server/lib", "beta.server.src/plugins/beta/server/lib"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ID(tt.unit, tt.surface, tt.stage, tt.elem))
		})
	}
}

func TestAssignMatchesOf(t *testing.T) {
	a := &types.ApiElement{Unit: "alpha", Surface: types.SurfacePublic, Stage: types.StageStart, Name: "search"}
	id := Assign(a)
	assert.Equal(t, "alpha.public.start.search", id)
	assert.Equal(t, a.ID, Of(a))

	key := RefKey(a, "src/plugins/beta/public/app.ts", 42)
	assert.Equal(t, a.ID, key.APIID)
}

func TestSurfaceForPath(t *testing.T) {
	assert.Equal(t, types.SurfacePublic, SurfaceForPath("src/plugins/alpha/public/index.ts"))
	assert.Equal(t, types.SurfaceServer, SurfaceForPath("src/plugins/alpha/server/index.ts"))
	assert.Equal(t, types.SurfaceServer, SurfaceForPath("src/plugins/alpha/common/index.ts"))
	assert.Equal(t, types.SurfacePublic, SurfaceForPath("public/index.ts"))
}

func TestDocIDs(t *testing.T) {
	assert.Equal(t, "alpha.public.doThing.abc123", APIDocID("abc123", "alpha.public.doThing"))
	assert.Equal(t, "alpha.public.doThing", APIDocID("", "alpha.public.doThing"))

	key := types.RefKey{APIID: "alpha.public.doThing", FilePath: "src/plugins/beta/public/app.ts", Line: 42}
	mirror := RefDocID("", key)
	assert.Regexp(t, `^[0-9a-f]{64}$`, mirror)
	assert.Equal(t, "abc123."+mirror, RefDocID("abc123", key))
	assert.Equal(t, mirror, RefDocID("", key))

	assert.Equal(t, "alpha.abc123", UnitDocID("abc123", "alpha"))
	assert.Equal(t, "alpha", UnitDocID("", "alpha"))
}

func TestRefDocID_Distinct(t *testing.T) {
	base := types.RefKey{APIID: "alpha.public.doThing", FilePath: "src/plugins/beta/public/a_b.ts", Line: 3}
	tests := []struct {
		name  string
		other types.RefKey
	}{
		{"slash versus underscore", types.RefKey{APIID: base.APIID, FilePath: "src/plugins/beta/public/a/b.ts", Line: 3}},
		{"other line", types.RefKey{APIID: base.APIID, FilePath: base.FilePath, Line: 4}},
		{"other api", types.RefKey{APIID: "alpha.public.doOther", FilePath: base.FilePath, Line: 3}},
		{"separator shifted across fields", types.RefKey{APIID: base.APIID + ".src", FilePath: "plugins/beta/public/a_b.ts", Line: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, RefDocID("c1", base), RefDocID("c1", tt.other))
			assert.NotEqual(t, RefDocID("", base), RefDocID("", tt.other))
		})
	}
}
