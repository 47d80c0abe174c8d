package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/apisurface/pkg/types"
)

// DefaultBatchSize is the number of documents written per transaction.
const DefaultBatchSize = 500

// BulkUpsert writes docs to index in batches of batchSize, one transaction
// per batch. Documents are stamped with the snapshot's commit. A failed batch
// stops the upload; the number of documents committed before it is returned
// with the error.
func BulkUpsert[T any](ctx context.Context, s Storage, index string, snap types.Snapshot, docs []T, idFn func(T) string, batchSize int) (int, error) {
	out, err := Encode(index, snap, docs, idFn)
	if err != nil {
		return 0, err
	}
	return UpsertBatches(ctx, s, out, batchSize)
}

// Encode marshals docs into index, stamped with the snapshot's commit.
func Encode[T any](index string, snap types.Snapshot, docs []T, idFn func(T) string) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s document: %w", index, err)
		}
		out = append(out, Document{
			Index:      index,
			ID:         idFn(doc),
			CommitHash: snap.CommitHash,
			CommitDate: snap.CommitDate,
			Body:       body,
		})
	}
	return out, nil
}

// UpsertBatches writes already encoded documents in batches of batchSize,
// one transaction per batch, with the same failure semantics as BulkUpsert.
func UpsertBatches(ctx context.Context, s Storage, docs []Document, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	written := 0
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		if err := writeBatch(ctx, s, batch); err != nil {
			return written, fmt.Errorf("bulk upsert %s after %d documents: %w", batch[0].Index, written, err)
		}
		written += len(batch)
	}
	return written, nil
}

func writeBatch(ctx context.Context, s Storage, batch []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.UpsertDocuments(ctx, batch); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceIndexes empties indexes and writes docs in a single transaction, so
// readers see either the previous contents or the new ones. docs are written
// batchSize at a time within that transaction.
func ReplaceIndexes(ctx context.Context, s Storage, indexes []string, docs []Document, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	for _, index := range indexes {
		if _, err := tx.DeleteIndex(ctx, index); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		if err := tx.UpsertDocuments(ctx, batch); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("replace %s after %d documents: %w", batch[0].Index, start, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(docs), nil
}
