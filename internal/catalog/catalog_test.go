package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/internal/catalog/catalogtest"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
	"github.com/dshills/apisurface/pkg/types"
)

func setup(t *testing.T, ttl time.Duration) (*Catalog, storage.Storage) {
	t.Helper()
	store := catalogtest.NewStore(t)
	catalogtest.Seed(t, store)
	return New(store, catalogtest.Repo, ttl), store
}

func ids(docs []snapshot.APIDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSnapshot(t *testing.T) {
	c, _ := setup(t, 0)
	ctx := context.Background()

	latest, err := c.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, catalogtest.LatestCommit, latest.CommitHash)

	old, err := c.Snapshot(ctx, catalogtest.OldCommit)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-11", old.CheckoutDate)

	_, err = c.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = New(catalogtest.NewStore(t), "other/repo", 0).Snapshot(ctx, "")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	snaps, err := c.Snapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, catalogtest.LatestCommit, snaps[0].CommitHash)
}

func TestUnitAPI(t *testing.T) {
	c, _ := setup(t, 0)
	ctx := context.Background()
	static, contract := true, false

	tests := []struct {
		name   string
		commit string
		filter APIFilter
		want   []string
	}{
		{"latest", "", APIFilter{}, []string{"alpha.public.doThing", "alpha.public.start.search", "alpha.server.registerRoute"}},
		{"dated commit", catalogtest.OldCommit, APIFilter{}, []string{"alpha.public.doThing", "alpha.server.registerRoute"}},
		{"server only", "", APIFilter{Surface: types.SurfaceServer}, []string{"alpha.server.registerRoute"}},
		{"static only", "", APIFilter{Static: &static}, []string{"alpha.public.doThing", "alpha.server.registerRoute"}},
		{"start contract", "", APIFilter{Static: &contract, Stage: types.StageStart}, []string{"alpha.public.start.search"}},
		{"setup contract", "", APIFilter{Static: &contract, Stage: types.StageSetup}, []string{}},
		{"min refs", "", APIFilter{MinRefs: 1}, []string{"alpha.public.doThing", "alpha.public.start.search"}},
		{"by refs", "", APIFilter{OrderRef: true}, []string{"alpha.public.doThing", "alpha.public.start.search", "alpha.server.registerRoute"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := c.UnitAPI(ctx, tt.commit, "alpha", tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}
}

func TestAPI(t *testing.T) {
	c, _ := setup(t, 0)
	ctx := context.Background()

	doc, err := c.API(ctx, "", "alpha.public.doThing")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.CrossBoundaryRefCount)
	assert.Equal(t, catalogtest.LatestCommit, doc.CommitHash)

	doc, err = c.API(ctx, catalogtest.OldCommit, "alpha.public.doThing")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.CrossBoundaryRefCount)

	_, err = c.API(ctx, catalogtest.OldCommit, "alpha.public.start.search")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsumers(t *testing.T) {
	c, _ := setup(t, 0)
	ctx := context.Background()

	refs, err := c.Consumers(ctx, "", "alpha.public.doThing")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, []Tally{
		{Unit: "beta", Team: "team-b", Count: 2},
		{Unit: "gamma", Team: "team-c", Count: 1},
	}, ByConsumer(refs))

	refs, err = c.Consumers(ctx, catalogtest.OldCommit, "alpha.public.doThing")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	refs, err = c.UnitConsumers(ctx, "", "alpha")
	require.NoError(t, err)
	assert.Len(t, refs, 4)
	for _, r := range refs {
		assert.Equal(t, "alpha", r.Source.Unit)
		assert.NotEqual(t, "alpha", r.Reference.Unit)
	}
}

func TestUnits(t *testing.T) {
	c, _ := setup(t, 0)
	units, err := c.Units(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "alpha", units[0].Name)
	assert.Equal(t, 3, units[0].APICount)
	assert.Equal(t, 4, units[0].RefCount)
	assert.Equal(t, "gamma", units[2].Name)
	assert.Zero(t, units[2].APICount)
}

func TestCache(t *testing.T) {
	c, store := setup(t, time.Minute)
	ctx := context.Background()

	first, err := c.UnitAPI(ctx, "", "beta", APIFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = store.DeleteIndex(ctx, storage.IndexName(storage.PrefixAPI, catalogtest.Repo, true))
	require.NoError(t, err)

	cached, err := c.UnitAPI(ctx, "", "beta", APIFilter{})
	require.NoError(t, err)
	assert.Len(t, cached, 1, "served from cache")

	c.InvalidateCache()
	fresh, err := c.UnitAPI(ctx, "", "beta", APIFilter{})
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestByConsumer_Ties(t *testing.T) {
	refs := []snapshot.ReferenceDocument{
		{ReferenceRecord: types.ReferenceRecord{Reference: types.ReferenceSite{Unit: "zeta"}}},
		{ReferenceRecord: types.ReferenceRecord{Reference: types.ReferenceSite{Unit: "beta"}}},
	}
	got := ByConsumer(refs)
	require.Len(t, got, 2)
	assert.Equal(t, "beta", got[0].Unit)
	assert.Empty(t, ByConsumer(nil))
}
