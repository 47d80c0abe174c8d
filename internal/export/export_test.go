package export

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/internal/storage"
)

const repo = "elastic/kibana"

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed stores a completed snapshot with apis api documents, two references
// and one unit.
func seed(t *testing.T, s storage.Storage, commit string, latest bool, apis int) {
	t.Helper()
	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &storage.SnapshotRecord{Repo: repo, CommitHash: commit, CommitDate: date, IsLatest: latest, RunID: "run-1"}
	require.NoError(t, s.BeginSnapshot(ctx, rec))

	var docs []storage.Document
	add := func(prefix, id, body string) {
		docs = append(docs, storage.Document{
			Index:      storage.IndexName(prefix, repo, false),
			ID:         id,
			CommitHash: commit,
			CommitDate: date,
			Body:       []byte(body),
		})
	}
	for i := 0; i < apis; i++ {
		add(storage.PrefixAPI, fmt.Sprintf("alpha.public.fn%04d.%s", i, commit), fmt.Sprintf(`{"id":"alpha.public.fn%04d","plugin":"alpha"}`, i))
	}
	add(storage.PrefixReferences, commit+".alpha.public.fn0000.src_plugins_beta_public_app.ts:42", `{"source":{"id":"alpha.public.fn0000"}}`)
	add(storage.PrefixReferences, commit+".alpha.public.fn0000.src_plugins_beta_public_app.ts:50", `{"source":{"id":"alpha.public.fn0000"}}`)
	add(storage.PrefixUnits, "alpha."+commit, `{"name":"alpha","team":"team-a"}`)
	_, err := storage.UpsertBatches(ctx, s, docs, 0)
	require.NoError(t, err)

	rec.APICount, rec.RefCount, rec.UnitCount = apis, 2, 1
	require.NoError(t, s.CompleteSnapshot(ctx, rec))
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	seed(t, src, "c1", false, 3)
	seed(t, src, "c2", true, 1203)

	t.Run("latest by default", func(t *testing.T) {
		var buf bytes.Buffer
		stats, err := Export(ctx, src, &buf, Options{Repo: repo})
		require.NoError(t, err)
		assert.Equal(t, "c2", stats.Header.CommitHash)
		assert.True(t, stats.Header.IsLatest)
		assert.Equal(t, 1203, stats.Documents[storage.PrefixAPI])
		assert.Equal(t, 1206, stats.Total())

		dst := newStore(t)
		in, err := Import(ctx, dst, &buf, Options{BatchSize: 100})
		require.NoError(t, err)
		assert.Equal(t, stats.Documents, in.Documents)

		n, err := dst.CountDocuments(ctx, storage.IndexName(storage.PrefixAPI, repo, false), "c2")
		require.NoError(t, err)
		assert.Equal(t, 1203, n)

		doc, err := dst.GetDocument(ctx, storage.IndexName(storage.PrefixReferences, repo, true),
			"alpha.public.fn0000.src_plugins_beta_public_app.ts:42")
		require.NoError(t, err)
		assert.Equal(t, "c2", doc.CommitHash)
		_, err = dst.GetDocument(ctx, storage.IndexName(storage.PrefixUnits, repo, true), "alpha")
		require.NoError(t, err)
		_, err = dst.GetDocument(ctx, storage.IndexName(storage.PrefixAPI, repo, true), "alpha.public.fn0007")
		require.NoError(t, err)

		rec, err := dst.GetSnapshot(ctx, repo, "c2")
		require.NoError(t, err)
		assert.True(t, rec.Done())
		assert.True(t, rec.IsLatest)
		assert.Equal(t, 1203, rec.APICount)
		assert.Equal(t, 2, rec.RefCount)
	})

	t.Run("by commit under another repo", func(t *testing.T) {
		var buf bytes.Buffer
		stats, err := Export(ctx, src, &buf, Options{Repo: repo, CommitHash: "c1"})
		require.NoError(t, err)
		assert.Equal(t, 6, stats.Total())

		dst := newStore(t)
		_, err = Import(ctx, dst, &buf, Options{Repo: "fork/kibana"})
		require.NoError(t, err)

		docs, err := dst.QueryDocuments(ctx, storage.Query{Index: storage.IndexName(storage.PrefixAPI, "fork/kibana", false)})
		require.NoError(t, err)
		assert.Len(t, docs, 3)

		n, err := dst.CountDocuments(ctx, storage.IndexName(storage.PrefixAPI, "fork/kibana", true), "")
		require.NoError(t, err)
		assert.Zero(t, n, "dated snapshots leave the mirror alone")
	})
}

func TestExport_Errors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := Export(ctx, s, &bytes.Buffer{}, Options{Repo: repo})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = Export(ctx, s, &bytes.Buffer{}, Options{Repo: repo, CommitHash: "nope"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.BeginSnapshot(ctx, &storage.SnapshotRecord{Repo: repo, CommitHash: "running"}))
	_, err = Export(ctx, s, &bytes.Buffer{}, Options{Repo: repo, CommitHash: "running"})
	assert.Error(t, err)
}

func compress(t *testing.T, lines ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := zw.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return &buf
}

func TestImport_BadArchive(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"empty", nil},
		{"wrong version", []string{`{"version":99,"repo":"a/b","commitHash":"c1"}`}},
		{"no commit", []string{`{"version":1,"repo":"a/b"}`}},
		{"unknown dataset", []string{`{"version":1,"repo":"a/b","commitHash":"c1"}`, `{"dataset":"vectors","id":"x","body":{}}`}},
		{"missing id", []string{`{"version":1,"repo":"a/b","commitHash":"c1"}`, `{"dataset":"api","body":{}}`}},
		{"truncated", []string{`{"version":1,"repo":"a/b","commitHash":"c1"}`, `{"dataset":"api",`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			_, err := Import(context.Background(), s, compress(t, tt.lines...), Options{})
			assert.ErrorIs(t, err, ErrBadArchive)

			_, err = s.GetSnapshot(context.Background(), "a/b", "c1")
			assert.ErrorIs(t, err, storage.ErrNotFound, "nothing is recorded for a rejected archive")
		})
	}
}

func TestStripCommit(t *testing.T) {
	assert.Equal(t, "alpha.public.fn", stripCommit(storage.PrefixAPI, "alpha.public.fn.c1", "c1"))
	assert.Equal(t, "alpha", stripCommit(storage.PrefixUnits, "alpha.c1", "c1"))
	assert.Equal(t, "alpha.public.fn.a_b.ts:3", stripCommit(storage.PrefixReferences, "c1.alpha.public.fn.a_b.ts:3", "c1"))
	assert.Equal(t, "already", stripCommit(storage.PrefixAPI, "already", "c1"))
}
