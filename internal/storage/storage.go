package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dataset prefixes.
const (
	PrefixAPI        = "api"
	PrefixReferences = "references"
	PrefixUnits      = "units"

	latestSuffix = "-latest"
)

// Storage defines the interface for persisting snapshot datasets
type Storage interface {
	DocumentWriter

	// Document operations
	GetDocument(ctx context.Context, index, id string) (*Document, error)
	QueryDocuments(ctx context.Context, q Query) ([]Document, error)
	CountDocuments(ctx context.Context, index, commitHash string) (int, error)
	ListIndexes(ctx context.Context) ([]IndexInfo, error)

	// Snapshot operations
	BeginSnapshot(ctx context.Context, s *SnapshotRecord) error
	CompleteSnapshot(ctx context.Context, s *SnapshotRecord) error
	GetSnapshot(ctx context.Context, repo, commitHash string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, repo string, limit int) ([]*SnapshotRecord, error)

	// Status operations
	GetStatus(ctx context.Context, repo string) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// DocumentWriter is the write side shared by the store and its transactions.
type DocumentWriter interface {
	UpsertDocuments(ctx context.Context, docs []Document) error
	DeleteIndex(ctx context.Context, index string) (int64, error)
}

// Tx represents a database transaction
type Tx interface {
	DocumentWriter
	Commit() error
	Rollback() error
}

// Document is one JSON document of a dataset. (Index, ID) is unique; writing
// an existing pair replaces the body.
type Document struct {
	Index      string
	ID         string
	CommitHash string
	CommitDate time.Time
	Body       json.RawMessage
	UpdatedAt  time.Time
}

// Decode unmarshals a document body into T.
func Decode[T any](d Document) (T, error) {
	var v T
	if err := json.Unmarshal(d.Body, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", d.Index, d.ID, err)
	}
	return v, nil
}

// Query selects documents of one dataset. Where keys are JSON paths into the
// body ("plugin", "source.plugin"); values are compared for equality.
type Query struct {
	Index      string
	CommitHash string
	Where      map[string]any
	OrderBy    string // JSON path; empty orders by document id
	Desc       bool
	Limit      int
	Offset     int
}

// IndexInfo summarises one dataset.
type IndexInfo struct {
	Name      string
	Documents int
	Commits   int
}

// Snapshot run states.
const (
	SnapshotRunning   = "running"
	SnapshotCompleted = "completed"
	SnapshotFailed    = "failed"
)

// SnapshotRecord tracks one persisted snapshot of a repository.
type SnapshotRecord struct {
	ID           int64
	Repo         string
	CommitHash   string
	CommitDate   time.Time
	CheckoutDate string
	IsLatest     bool
	RunID        string
	Status       string
	APICount     int
	RefCount     int
	UnitCount    int
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Done reports a successfully completed snapshot.
func (s *SnapshotRecord) Done() bool {
	return s != nil && s.Status == SnapshotCompleted
}

// Status contains statistics about the persisted datasets of a repository
type Status struct {
	Repo        string
	Snapshots   int
	Completed   int
	Latest      *SnapshotRecord
	Indexes     []IndexInfo
	IndexSizeMB float64
	Health      HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible bool
	LatestAvailable    bool
}

// IndexName builds the dataset name <prefix>-<owner>-<repo>, with the
// -latest suffix for the mirror. repo is "owner/name".
func IndexName(prefix, repo string, latest bool) string {
	name := prefix + "-" + strings.ToLower(strings.ReplaceAll(strings.Trim(repo, "/"), "/", "-"))
	if latest {
		name += latestSuffix
	}
	return name
}

// IsLatestIndex reports whether name is a latest mirror.
func IsLatestIndex(name string) bool {
	return strings.HasSuffix(name, latestSuffix)
}
