// Package storage provides SQLite-based persistence for snapshot datasets.
//
// Datasets are named collections of JSON documents, addressed by
// (index, id). Each snapshot writes three datasets per repository:
//
//   - api-<owner>-<repo>: one document per API element and commit
//   - references-<owner>-<repo>: one document per cross-boundary reference
//   - units-<owner>-<repo>: the unit inventory
//
// The latest snapshot is mirrored into the same names with a -latest suffix,
// under commit-agnostic ids, so the mirror always reflects the tip of the
// branch.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semantic versions)
//   - snapshots: one row per (repo, commit) with run status and counts
//   - documents: JSON bodies keyed by (index_name, doc_id)
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("apisurface.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	n, err := storage.BulkUpsert(ctx, db, storage.IndexName(storage.PrefixAPI, "elastic/kibana", false),
//	    snap, docs, func(d APIDoc) string { return d.DocID }, storage.DefaultBatchSize)
//
// # Queries
//
// QueryDocuments filters on JSON fields of the body:
//
//	refs, err := db.QueryDocuments(ctx, storage.Query{
//	    Index: storage.IndexName(storage.PrefixReferences, "elastic/kibana", true),
//	    Where: map[string]any{"source.plugin": "data"},
//	})
//
// # Drivers
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
package storage
