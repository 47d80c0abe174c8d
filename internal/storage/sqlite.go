package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery is returned for malformed document queries
	ErrInvalidQuery = errors.New("invalid query")
)

const timeLayout = time.RFC3339Nano

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertDocuments(ctx context.Context, docs []Document) error {
	return upsertDocuments(ctx, t.tx, docs)
}

func (t *sqliteTx) DeleteIndex(ctx context.Context, index string) (int64, error) {
	return deleteIndex(ctx, t.tx, index)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// Document operations

// UpsertDocuments writes docs atomically.
func (s *SQLiteStorage) UpsertDocuments(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertDocuments(ctx, tx, docs); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsertDocuments(ctx context.Context, q querier, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO documents (index_name, doc_id, commit_hash, commit_date, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, doc_id) DO UPDATE SET
			commit_hash = excluded.commit_hash,
			commit_date = excluded.commit_date,
			body = excluded.body,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare document upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, d := range docs {
		if d.Index == "" || d.ID == "" {
			return fmt.Errorf("document requires index and id: %w", ErrInvalidQuery)
		}
		if !json.Valid(d.Body) {
			return fmt.Errorf("document %s/%s: body is not valid JSON", d.Index, d.ID)
		}
		if _, err := stmt.ExecContext(ctx, d.Index, d.ID, d.CommitHash, formatTime(d.CommitDate), string(d.Body), now); err != nil {
			return fmt.Errorf("failed to upsert document %s/%s: %w", d.Index, d.ID, err)
		}
	}
	return nil
}

// DeleteIndex removes every document of a dataset.
func (s *SQLiteStorage) DeleteIndex(ctx context.Context, index string) (int64, error) {
	return deleteIndex(ctx, s.db, index)
}

func deleteIndex(ctx context.Context, q querier, index string) (int64, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM documents WHERE index_name = ?", index)
	if err != nil {
		return 0, fmt.Errorf("failed to delete index %s: %w", index, err)
	}
	return res.RowsAffected()
}

const documentColumns = "index_name, doc_id, commit_hash, commit_date, body, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(r rowScanner) (*Document, error) {
	var d Document
	var body, commitDate, updatedAt string
	if err := r.Scan(&d.Index, &d.ID, &d.CommitHash, &commitDate, &body, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if d.CommitDate, err = parseTime(commitDate); err != nil {
		return nil, fmt.Errorf("document %s/%s: bad commit date: %w", d.Index, d.ID, err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("document %s/%s: bad update time: %w", d.Index, d.ID, err)
	}
	d.Body = json.RawMessage(body)
	return &d, nil
}

// GetDocument returns one document or ErrNotFound.
func (s *SQLiteStorage) GetDocument(ctx context.Context, index, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE index_name = ? AND doc_id = ?", index, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

var jsonField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// jsonPath turns a validated dotted field into a SQL JSON path literal.
func jsonPath(field string) (string, error) {
	if !jsonField.MatchString(field) {
		return "", fmt.Errorf("field %q: %w", field, ErrInvalidQuery)
	}
	return "'$." + field + "'", nil
}

// QueryDocuments returns the documents of q.Index matching every Where
// condition.
func (s *SQLiteStorage) QueryDocuments(ctx context.Context, q Query) ([]Document, error) {
	if q.Index == "" {
		return nil, fmt.Errorf("index is required: %w", ErrInvalidQuery)
	}

	var sb strings.Builder
	args := []interface{}{q.Index}
	sb.WriteString("SELECT " + documentColumns + " FROM documents WHERE index_name = ?")
	if q.CommitHash != "" {
		sb.WriteString(" AND commit_hash = ?")
		args = append(args, q.CommitHash)
	}

	fields := make([]string, 0, len(q.Where))
	for f := range q.Where {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		p, err := jsonPath(f)
		if err != nil {
			return nil, err
		}
		v := q.Where[f]
		if b, ok := v.(bool); ok {
			// JSON booleans extract as 0/1
			v = 0
			if b {
				v = 1
			}
		}
		sb.WriteString(" AND json_extract(body, " + p + ") = ?")
		args = append(args, v)
	}

	sb.WriteString(" ORDER BY ")
	if q.OrderBy != "" {
		p, err := jsonPath(q.OrderBy)
		if err != nil {
			return nil, err
		}
		sb.WriteString("json_extract(body, " + p + ")")
		if q.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString("doc_id")

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Index, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CountDocuments counts a dataset's documents, optionally for one commit.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, index, commitHash string) (int, error) {
	query := "SELECT COUNT(*) FROM documents WHERE index_name = ?"
	args := []interface{}{index}
	if commitHash != "" {
		query += " AND commit_hash = ?"
		args = append(args, commitHash)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListIndexes summarises every dataset.
func (s *SQLiteStorage) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT index_name, COUNT(*), COUNT(DISTINCT commit_hash)
		FROM documents
		GROUP BY index_name
		ORDER BY index_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexInfo
	for rows.Next() {
		var info IndexInfo
		if err := rows.Scan(&info.Name, &info.Documents, &info.Commits); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Snapshot operations

// BeginSnapshot records s as running. Re-running a commit resets its row;
// the latest flag and checkout date of an earlier run are kept.
func (s *SQLiteStorage) BeginSnapshot(ctx context.Context, snap *SnapshotRecord) error {
	if snap.Repo == "" || snap.CommitHash == "" {
		return fmt.Errorf("snapshot requires repo and commit: %w", ErrInvalidQuery)
	}
	if snap.StartedAt.IsZero() {
		snap.StartedAt = time.Now()
	}
	snap.Status = SnapshotRunning
	snap.CompletedAt = time.Time{}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (repo, commit_hash, commit_date, checkout_date, is_latest, run_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, commit_hash) DO UPDATE SET
			commit_date = excluded.commit_date,
			checkout_date = CASE WHEN excluded.checkout_date = '' THEN snapshots.checkout_date ELSE excluded.checkout_date END,
			is_latest = MAX(snapshots.is_latest, excluded.is_latest),
			run_id = excluded.run_id,
			status = excluded.status,
			api_count = 0,
			ref_count = 0,
			unit_count = 0,
			error = '',
			started_at = excluded.started_at,
			completed_at = ''
	`, snap.Repo, snap.CommitHash, formatTime(snap.CommitDate), snap.CheckoutDate, snap.IsLatest,
		snap.RunID, snap.Status, formatTime(snap.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to begin snapshot %s@%s: %w", snap.Repo, snap.CommitHash, err)
	}

	return s.db.QueryRowContext(ctx,
		"SELECT id FROM snapshots WHERE repo = ? AND commit_hash = ?", snap.Repo, snap.CommitHash).Scan(&snap.ID)
}

// CompleteSnapshot stores the outcome of a run. An empty status means
// completed. A completed latest snapshot clears the flag on older rows.
func (s *SQLiteStorage) CompleteSnapshot(ctx context.Context, snap *SnapshotRecord) error {
	if snap.Status == "" || snap.Status == SnapshotRunning {
		snap.Status = SnapshotCompleted
	}
	if snap.CompletedAt.IsZero() {
		snap.CompletedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE snapshots
		SET status = ?, api_count = ?, ref_count = ?, unit_count = ?, error = ?, completed_at = ?
		WHERE repo = ? AND commit_hash = ?
	`, snap.Status, snap.APICount, snap.RefCount, snap.UnitCount, snap.Error, formatTime(snap.CompletedAt),
		snap.Repo, snap.CommitHash)
	if err != nil {
		return fmt.Errorf("failed to complete snapshot %s@%s: %w", snap.Repo, snap.CommitHash, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if snap.IsLatest && snap.Status == SnapshotCompleted {
		if _, err := tx.ExecContext(ctx,
			"UPDATE snapshots SET is_latest = (commit_hash = ?) WHERE repo = ?", snap.CommitHash, snap.Repo); err != nil {
			return fmt.Errorf("failed to move latest flag: %w", err)
		}
	}
	return tx.Commit()
}

const snapshotColumns = `id, repo, commit_hash, commit_date, checkout_date, is_latest, run_id, status,
	api_count, ref_count, unit_count, error, started_at, completed_at`

func scanSnapshot(r rowScanner) (*SnapshotRecord, error) {
	var s SnapshotRecord
	var commitDate, startedAt, completedAt string
	err := r.Scan(&s.ID, &s.Repo, &s.CommitHash, &commitDate, &s.CheckoutDate, &s.IsLatest, &s.RunID, &s.Status,
		&s.APICount, &s.RefCount, &s.UnitCount, &s.Error, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if s.CommitDate, err = parseTime(commitDate); err != nil {
		return nil, fmt.Errorf("snapshot %d: bad commit date: %w", s.ID, err)
	}
	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("snapshot %d: bad start time: %w", s.ID, err)
	}
	if s.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("snapshot %d: bad completion time: %w", s.ID, err)
	}
	return &s, nil
}

// GetSnapshot returns the snapshot row of a commit or ErrNotFound.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, repo, commitHash string) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE repo = ? AND commit_hash = ?", repo, commitHash)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns a repository's snapshots, newest commit first.
func (s *SQLiteStorage) ListSnapshots(ctx context.Context, repo string, limit int) ([]*SnapshotRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE repo = ? ORDER BY commit_date DESC, id DESC LIMIT ?",
		repo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SnapshotRecord
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Status operations

// GetStatus summarises the persisted state of a repository.
func (s *SQLiteStorage) GetStatus(ctx context.Context, repo string) (*Status, error) {
	status := &Status{Repo: repo}
	if err := s.db.PingContext(ctx); err != nil {
		return status, nil
	}
	status.Health.DatabaseAccessible = true

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM snapshots WHERE repo = ?
	`, SnapshotCompleted, repo).Scan(&status.Snapshots, &status.Completed)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE repo = ? AND is_latest = 1 AND status = ? ORDER BY commit_date DESC LIMIT 1",
		repo, SnapshotCompleted)
	latest, err := scanSnapshot(row)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		status.Latest = latest
	}

	indexes, err := s.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	mine := make(map[string]bool)
	for _, p := range []string{PrefixAPI, PrefixReferences, PrefixUnits} {
		mine[IndexName(p, repo, false)] = true
		mine[IndexName(p, repo, true)] = true
	}
	for _, info := range indexes {
		if !mine[info.Name] {
			continue
		}
		status.Indexes = append(status.Indexes, info)
		if info.Name == IndexName(PrefixAPI, repo, true) && info.Documents > 0 {
			status.Health.LatestAvailable = true
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
		}
	}
	return status, nil
}
