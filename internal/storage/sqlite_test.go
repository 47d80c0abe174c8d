package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

type apiDoc struct {
	ID       string `json:"id"`
	Plugin   string `json:"plugin"`
	IsStatic bool   `json:"isStatic"`
	RefCount int    `json:"refCount"`
}

type refDoc struct {
	Source struct {
		Plugin string `json:"plugin"`
	} `json:"source"`
	Line int `json:"line"`
}

func doc(t *testing.T, index, id string, body any) Document {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return Document{Index: index, ID: id, CommitHash: "abc", CommitDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Body: raw}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestMigrations(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	v, err := schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(ctx, storage.db))

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err = schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = schemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestUpsertDocuments(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	first := doc(t, "api-elastic-kibana", "alpha.public.doThing.abc", apiDoc{ID: "alpha.public.doThing", Plugin: "alpha", RefCount: 1})
	require.NoError(t, storage.UpsertDocuments(ctx, []Document{first}))

	replaced := doc(t, "api-elastic-kibana", "alpha.public.doThing.abc", apiDoc{ID: "alpha.public.doThing", Plugin: "alpha", RefCount: 7})
	require.NoError(t, storage.UpsertDocuments(ctx, []Document{replaced}))

	got, err := storage.GetDocument(ctx, "api-elastic-kibana", "alpha.public.doThing.abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.CommitHash)
	assert.True(t, got.CommitDate.Equal(first.CommitDate))
	assert.False(t, got.UpdatedAt.IsZero())

	decoded, err := Decode[apiDoc](*got)
	require.NoError(t, err)
	assert.Equal(t, 7, decoded.RefCount)

	n, err := storage.CountDocuments(ctx, "api-elastic-kibana", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertDocuments_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	err := storage.UpsertDocuments(ctx, []Document{{Index: "api", ID: "", Body: json.RawMessage(`{}`)}})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	err = storage.UpsertDocuments(ctx, []Document{
		{Index: "api", ID: "ok", Body: json.RawMessage(`{}`)},
		{Index: "api", ID: "bad", Body: json.RawMessage(`{`)},
	})
	assert.Error(t, err)

	// the failing call is atomic
	n, err := storage.CountDocuments(ctx, "api", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetDocument_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	_, err := storage.GetDocument(context.Background(), "api", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryDocuments(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var docs []Document
	for i, d := range []apiDoc{
		{ID: "alpha.public.a", Plugin: "alpha", RefCount: 3},
		{ID: "alpha.public.b", Plugin: "alpha", RefCount: 9, IsStatic: true},
		{ID: "alpha.server.c", Plugin: "alpha", RefCount: 1, IsStatic: true},
		{ID: "beta.public.d", Plugin: "beta", RefCount: 5},
	} {
		docs = append(docs, doc(t, "api-x", d.ID, d))
		if i == 3 {
			docs[i].CommitHash = "def"
		}
	}
	require.NoError(t, storage.UpsertDocuments(ctx, docs))

	ids := func(ds []Document) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all", Query{Index: "api-x"}, []string{"alpha.public.a", "alpha.public.b", "alpha.server.c", "beta.public.d"}},
		{"by field", Query{Index: "api-x", Where: map[string]any{"plugin": "alpha"}}, []string{"alpha.public.a", "alpha.public.b", "alpha.server.c"}},
		{"by bool", Query{Index: "api-x", Where: map[string]any{"plugin": "alpha", "isStatic": true}}, []string{"alpha.public.b", "alpha.server.c"}},
		{"by commit", Query{Index: "api-x", CommitHash: "def"}, []string{"beta.public.d"}},
		{"ordered", Query{Index: "api-x", OrderBy: "refCount", Desc: true}, []string{"alpha.public.b", "beta.public.d", "alpha.public.a", "alpha.server.c"}},
		{"paged", Query{Index: "api-x", OrderBy: "refCount", Limit: 2, Offset: 1}, []string{"alpha.public.a", "beta.public.d"}},
		{"offset only", Query{Index: "api-x", Offset: 3}, []string{"beta.public.d"}},
		{"no match", Query{Index: "api-x", Where: map[string]any{"plugin": "gamma"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.QueryDocuments(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	t.Run("nested field", func(t *testing.T) {
		var r refDoc
		r.Source.Plugin = "alpha"
		r.Line = 4
		require.NoError(t, storage.UpsertDocuments(ctx, []Document{doc(t, "references-x", "r1", r)}))

		got, err := storage.QueryDocuments(ctx, Query{Index: "references-x", Where: map[string]any{"source.plugin": "alpha"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, ids(got))
	})

	t.Run("rejects unsafe fields", func(t *testing.T) {
		_, err := storage.QueryDocuments(ctx, Query{Index: "api-x", Where: map[string]any{"plugin') = 1 OR ('": "x"}})
		assert.ErrorIs(t, err, ErrInvalidQuery)
		_, err = storage.QueryDocuments(ctx, Query{Index: "api-x", OrderBy: "refCount DESC"})
		assert.ErrorIs(t, err, ErrInvalidQuery)
		_, err = storage.QueryDocuments(ctx, Query{})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestDeleteIndex(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.UpsertDocuments(ctx, []Document{
		doc(t, "api-x-latest", "a", apiDoc{ID: "a"}),
		doc(t, "api-x-latest", "b", apiDoc{ID: "b"}),
		doc(t, "api-x", "a.abc", apiDoc{ID: "a"}),
	}))

	n, err := storage.DeleteIndex(ctx, "api-x-latest")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	indexes, err := storage.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []IndexInfo{{Name: "api-x", Documents: 1, Commits: 1}}, indexes)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertDocuments(ctx, []Document{doc(t, "api", "a", apiDoc{ID: "a"})}))
	require.NoError(t, tx.Rollback())

	n, err := storage.CountDocuments(ctx, "api", "")
	require.NoError(t, err)
	assert.Zero(t, n)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertDocuments(ctx, []Document{doc(t, "api", "a", apiDoc{ID: "a"})}))
	require.NoError(t, tx.Commit())

	n, err = storage.CountDocuments(ctx, "api", "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBulkUpsert(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	snap := types.Snapshot{CommitHash: "abc", CommitDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	docs := make([]apiDoc, 1203)
	for i := range docs {
		docs[i] = apiDoc{ID: fmt.Sprintf("alpha.public.fn%04d", i), Plugin: "alpha", RefCount: i}
	}

	n, err := BulkUpsert(ctx, storage, "api-x", snap, docs, func(d apiDoc) string { return d.ID + "." + snap.CommitHash }, 500)
	require.NoError(t, err)
	assert.Equal(t, 1203, n)

	count, err := storage.CountDocuments(ctx, "api-x", "abc")
	require.NoError(t, err)
	assert.Equal(t, 1203, count)

	// Re-running the same snapshot is idempotent
	n, err = BulkUpsert(ctx, storage, "api-x", snap, docs, func(d apiDoc) string { return d.ID + "." + snap.CommitHash }, 0)
	require.NoError(t, err)
	assert.Equal(t, 1203, n)
	count, err = storage.CountDocuments(ctx, "api-x", "")
	require.NoError(t, err)
	assert.Equal(t, 1203, count)
}

func TestBulkUpsert_BatchFailure(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	snap := types.Snapshot{CommitHash: "abc", CommitDate: time.Now()}

	docs := make([]apiDoc, 700)
	for i := range docs {
		docs[i] = apiDoc{ID: fmt.Sprintf("fn%d", i)}
	}
	docs[650].ID = "" // an empty id fails the second batch

	n, err := BulkUpsert(ctx, storage, "api-x", snap, docs, func(d apiDoc) string { return d.ID }, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Equal(t, 500, n)

	count, err := storage.CountDocuments(ctx, "api-x", "")
	require.NoError(t, err)
	assert.Equal(t, 500, count, "the failed batch is rolled back")
}

func TestReplaceIndexes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seed := []Document{
		doc(t, "api-latest", "old.api", apiDoc{ID: "old.api"}),
		doc(t, "refs-latest", "old.ref", refDoc{}),
		doc(t, "api-abc", "kept", apiDoc{ID: "kept"}),
	}
	require.NoError(t, storage.UpsertDocuments(ctx, seed))
	indexes := []string{"api-latest", "refs-latest", "units-latest"}

	t.Run("failure keeps previous contents", func(t *testing.T) {
		docs := make([]Document, 0, 6)
		for i := range 5 {
			docs = append(docs, doc(t, "api-latest", fmt.Sprintf("new%d", i), apiDoc{}))
		}
		docs = append(docs, doc(t, "refs-latest", "", refDoc{}))

		n, err := ReplaceIndexes(ctx, storage, indexes, docs, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.Zero(t, n)

		got, err := storage.QueryDocuments(ctx, Query{Index: "api-latest"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "old.api", got[0].ID)
		count, err := storage.CountDocuments(ctx, "refs-latest", "")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("success swaps contents", func(t *testing.T) {
		docs := []Document{
			doc(t, "api-latest", "new.api", apiDoc{ID: "new.api"}),
			doc(t, "units-latest", "alpha", apiDoc{}),
		}
		n, err := ReplaceIndexes(ctx, storage, indexes, docs, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := storage.QueryDocuments(ctx, Query{Index: "api-latest"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "new.api", got[0].ID)
		count, err := storage.CountDocuments(ctx, "refs-latest", "")
		require.NoError(t, err)
		assert.Zero(t, count, "indexes without new documents are emptied")
		count, err = storage.CountDocuments(ctx, "api-abc", "")
		require.NoError(t, err)
		assert.Equal(t, 1, count, "other indexes are untouched")
	})
}

func TestSnapshots(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	dated := &SnapshotRecord{Repo: "elastic/kibana", CommitHash: "c1", CommitDate: day(1), CheckoutDate: "2024-01-02", RunID: "run-1"}
	require.NoError(t, storage.BeginSnapshot(ctx, dated))
	assert.Greater(t, dated.ID, int64(0))
	assert.Equal(t, SnapshotRunning, dated.Status)

	got, err := storage.GetSnapshot(ctx, "elastic/kibana", "c1")
	require.NoError(t, err)
	assert.False(t, got.Done())

	dated.APICount, dated.RefCount, dated.UnitCount = 10, 42, 3
	require.NoError(t, storage.CompleteSnapshot(ctx, dated))

	got, err = storage.GetSnapshot(ctx, "elastic/kibana", "c1")
	require.NoError(t, err)
	assert.True(t, got.Done())
	assert.Equal(t, 42, got.RefCount)
	assert.Equal(t, "2024-01-02", got.CheckoutDate)
	assert.True(t, got.CommitDate.Equal(day(1)))
	assert.False(t, got.CompletedAt.IsZero())

	t.Run("latest flag moves to the newest latest run", func(t *testing.T) {
		first := &SnapshotRecord{Repo: "elastic/kibana", CommitHash: "c2", CommitDate: day(2), IsLatest: true}
		require.NoError(t, storage.BeginSnapshot(ctx, first))
		require.NoError(t, storage.CompleteSnapshot(ctx, first))

		second := &SnapshotRecord{Repo: "elastic/kibana", CommitHash: "c3", CommitDate: day(3), IsLatest: true}
		require.NoError(t, storage.BeginSnapshot(ctx, second))
		require.NoError(t, storage.CompleteSnapshot(ctx, second))

		list, err := storage.ListSnapshots(ctx, "elastic/kibana", 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"c3", "c2", "c1"}, []string{list[0].CommitHash, list[1].CommitHash, list[2].CommitHash})
		assert.True(t, list[0].IsLatest)
		assert.False(t, list[1].IsLatest)

		limited, err := storage.ListSnapshots(ctx, "elastic/kibana", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("re-running a commit resets counts and keeps the checkout date", func(t *testing.T) {
		again := &SnapshotRecord{Repo: "elastic/kibana", CommitHash: "c1", CommitDate: day(1), RunID: "run-2"}
		require.NoError(t, storage.BeginSnapshot(ctx, again))
		assert.Equal(t, dated.ID, again.ID)

		got, err := storage.GetSnapshot(ctx, "elastic/kibana", "c1")
		require.NoError(t, err)
		assert.Equal(t, SnapshotRunning, got.Status)
		assert.Zero(t, got.RefCount)
		assert.Equal(t, "2024-01-02", got.CheckoutDate)
		assert.Equal(t, "run-2", got.RunID)

		again.Status = SnapshotFailed
		again.Error = "checkout failed"
		require.NoError(t, storage.CompleteSnapshot(ctx, again))
		got, err = storage.GetSnapshot(ctx, "elastic/kibana", "c1")
		require.NoError(t, err)
		assert.False(t, got.Done())
		assert.Equal(t, "checkout failed", got.Error)
	})

	t.Run("unknown snapshots", func(t *testing.T) {
		_, err := storage.GetSnapshot(ctx, "elastic/kibana", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		err = storage.CompleteSnapshot(ctx, &SnapshotRecord{Repo: "elastic/kibana", CommitHash: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
		err = storage.BeginSnapshot(ctx, &SnapshotRecord{Repo: "elastic/kibana"})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := "elastic/kibana"

	status, err := storage.GetStatus(ctx, repo)
	require.NoError(t, err)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.False(t, status.Health.LatestAvailable)
	assert.Nil(t, status.Latest)

	snap := &SnapshotRecord{Repo: repo, CommitHash: "c1", CommitDate: time.Now(), IsLatest: true}
	require.NoError(t, storage.BeginSnapshot(ctx, snap))
	require.NoError(t, storage.CompleteSnapshot(ctx, snap))
	require.NoError(t, storage.UpsertDocuments(ctx, []Document{
		doc(t, IndexName(PrefixAPI, repo, true), "a", apiDoc{ID: "a"}),
		doc(t, IndexName(PrefixAPI, repo, false), "a.c1", apiDoc{ID: "a"}),
		doc(t, "api-other-repo", "a", apiDoc{ID: "a"}),
	}))

	status, err = storage.GetStatus(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Snapshots)
	assert.Equal(t, 1, status.Completed)
	require.NotNil(t, status.Latest)
	assert.Equal(t, "c1", status.Latest.CommitHash)
	assert.True(t, status.Health.LatestAvailable)
	assert.Len(t, status.Indexes, 2)
	assert.Greater(t, status.IndexSizeMB, 0.0)
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "api-elastic-kibana", IndexName(PrefixAPI, "elastic/kibana", false))
	assert.Equal(t, "references-elastic-kibana-latest", IndexName(PrefixReferences, "Elastic/Kibana", true))
	assert.Equal(t, "units-elastic-kibana", IndexName(PrefixUnits, "/elastic/kibana/", false))
	assert.True(t, IsLatestIndex("units-elastic-kibana-latest"))
	assert.False(t, IsLatestIndex("units-elastic-kibana"))
}
