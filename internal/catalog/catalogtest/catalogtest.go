// Package catalogtest seeds a store with small, known snapshots for tests of
// the packages that read persisted data.
package catalogtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/internal/aggregate"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
	"github.com/dshills/apisurface/pkg/types"
)

// Repo is the repository every seeded snapshot belongs to.
const Repo = "elastic/kibana"

// Commits seeded by Seed, oldest first. LatestCommit is the branch tip.
const (
	OldCommit    = "c1"
	LatestCommit = "c2"
)

var units = []types.OwningUnit{
	{Name: "alpha", TeamOwner: "team-a", RootPath: "src/plugins/alpha"},
	{Name: "beta", TeamOwner: "team-b", RootPath: "src/plugins/beta"},
	{Name: "gamma", TeamOwner: "team-c", RootPath: "x-pack/plugins/gamma"},
}

func api(unit, team string, surface types.Surface, stage types.Stage, name string, refs int) *types.ApiElement {
	id := unit + "." + string(surface) + "."
	if stage != types.StageNone {
		id += string(stage) + "."
	}
	return &types.ApiElement{
		ID:                    id + name,
		Unit:                  unit,
		TeamOwner:             team,
		FilePath:              "src/plugins/" + unit + "/" + string(surface) + "/index.ts",
		Name:                  name,
		Kind:                  types.KindFunction,
		Surface:               surface,
		IsStatic:              stage == types.StageNone,
		Stage:                 stage,
		CrossBoundaryRefCount: refs,
	}
}

func ref(a *types.ApiElement, unit, team, file string, line int) types.ReferenceRecord {
	return types.ReferenceRecord{
		Source: types.ReferenceSource{
			APIID:     a.ID,
			Unit:      a.Unit,
			TeamOwner: a.TeamOwner,
			FilePath:  a.FilePath,
			Name:      a.Name,
			Surface:   a.Surface,
			IsStatic:  a.IsStatic,
			Stage:     a.Stage,
		},
		Reference: types.ReferenceSite{Unit: unit, TeamOwner: team, FilePath: file, Line: line},
	}
}

// Result builds the seeded analysis result. The latest commit adds
// alpha.public.start.search and a gamma consumer of doThing.
//
//	alpha.public.doThing         static  beta x2 (gamma x1 at latest)
//	alpha.public.start.search    start   beta x1 (latest only)
//	alpha.server.registerRoute   static  unused
//	beta.public.Widget           static  alpha x1
func Result(latest bool) *aggregate.Result {
	doThing := api("alpha", "team-a", types.SurfacePublic, types.StageNone, "doThing", 2)
	route := api("alpha", "team-a", types.SurfaceServer, types.StageNone, "registerRoute", 0)
	widget := api("beta", "team-b", types.SurfacePublic, types.StageNone, "Widget", 1)

	elems := []*types.ApiElement{doThing, route, widget}
	refs := []types.ReferenceRecord{
		ref(doThing, "beta", "team-b", "src/plugins/beta/public/app.ts", 42),
		ref(doThing, "beta", "team-b", "src/plugins/beta/public/app.ts", 50),
		ref(widget, "alpha", "team-a", "src/plugins/alpha/public/render.tsx", 7),
	}
	if latest {
		search := api("alpha", "team-a", types.SurfacePublic, types.StageStart, "search", 1)
		doThing.CrossBoundaryRefCount = 3
		elems = append(elems, search)
		refs = append(refs,
			ref(doThing, "gamma", "team-c", "x-pack/plugins/gamma/public/app.ts", 3),
			ref(search, "beta", "team-b", "src/plugins/beta/public/app.ts", 11))
	}

	m := make(map[types.RefKey]types.ReferenceRecord, len(refs))
	for _, r := range refs {
		m[r.Key()] = r
	}
	return aggregate.FromPass(elems, m)
}

// Seed persists a completed dated snapshot (OldCommit) and a completed
// latest snapshot (LatestCommit) of Repo.
func Seed(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()
	for i, commit := range []string{OldCommit, LatestCommit} {
		latest := commit == LatestCommit
		snap := types.Snapshot{
			CommitHash: commit,
			CommitDate: time.Date(2024, 1, 10*(i+1), 12, 0, 0, 0, time.UTC),
			IsLatest:   latest,
			RunID:      "seed",
		}
		if !latest {
			snap.CheckoutDate = "2024-01-11"
		}
		rec := &storage.SnapshotRecord{
			Repo: Repo, CommitHash: commit, CommitDate: snap.CommitDate,
			CheckoutDate: snap.CheckoutDate, IsLatest: latest, RunID: snap.RunID,
		}
		require.NoError(t, store.BeginSnapshot(ctx, rec))

		res := Result(latest)
		docs := snapshot.BuildDocuments(snap, res, units)
		require.NoError(t, snapshot.Persist(ctx, store, Repo, snap, docs, 0))

		rec.APICount, rec.RefCount, rec.UnitCount = len(docs.APIs), len(docs.Refs), len(docs.Units)
		require.NoError(t, store.CompleteSnapshot(ctx, rec))
	}
}

// NewStore opens an in-memory store closed at test cleanup.
func NewStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
