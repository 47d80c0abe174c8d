// Package export moves persisted snapshots between stores as zstd-compressed
// JSON lines. The first line is a header describing the snapshot; every
// following line is one document of the api, references or units dataset.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dshills/apisurface/internal/storage"
)

// FormatVersion is written to every header and checked on import.
const FormatVersion = 1

// ErrBadArchive is returned when an archive cannot be imported.
var ErrBadArchive = errors.New("invalid snapshot archive")

// pageSize is the number of documents read from the store per query.
const pageSize = 1000

var datasets = []string{storage.PrefixAPI, storage.PrefixReferences, storage.PrefixUnits}

// Header describes the exported snapshot.
type Header struct {
	Version      int       `json:"version"`
	Repo         string    `json:"repo"`
	CommitHash   string    `json:"commitHash"`
	CommitDate   time.Time `json:"commitDate"`
	CheckoutDate string    `json:"checkoutDate,omitempty"`
	IsLatest     bool      `json:"isLatest"`
	RunID        string    `json:"runId,omitempty"`
	ExportedAt   time.Time `json:"exportedAt"`
}

// line is one document in the archive. Dataset is the index prefix so an
// archive can be imported under another repository name.
type line struct {
	Dataset string          `json:"dataset"`
	ID      string          `json:"id"`
	Body    json.RawMessage `json:"body"`
}

// Options selects what is exported or how it is imported.
type Options struct {
	Repo       string
	CommitHash string // commit to export (default: the latest snapshot)
	BatchSize  int    // import batch size (default: storage.DefaultBatchSize)
	Logger     *slog.Logger
}

// Stats counts documents per dataset prefix.
type Stats struct {
	Header    Header
	Documents map[string]int
}

// Total is the number of documents moved.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Documents {
		n += c
	}
	return n
}

func logger(opts Options) *slog.Logger {
	if opts.Logger == nil {
		return slog.Default()
	}
	return opts.Logger
}

// Export writes one completed snapshot to w.
func Export(ctx context.Context, store storage.Storage, w io.Writer, opts Options) (Stats, error) {
	snap, err := pick(ctx, store, opts)
	if err != nil {
		return Stats{}, err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return Stats{}, fmt.Errorf("creating zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	enc := json.NewEncoder(bw)

	stats := Stats{
		Header: Header{
			Version:      FormatVersion,
			Repo:         snap.Repo,
			CommitHash:   snap.CommitHash,
			CommitDate:   snap.CommitDate,
			CheckoutDate: snap.CheckoutDate,
			IsLatest:     snap.IsLatest,
			RunID:        snap.RunID,
			ExportedAt:   time.Now().UTC(),
		},
		Documents: make(map[string]int),
	}
	if err := enc.Encode(stats.Header); err != nil {
		zw.Close()
		return stats, fmt.Errorf("writing header: %w", err)
	}

	for _, prefix := range datasets {
		index := storage.IndexName(prefix, snap.Repo, false)
		for offset := 0; ; offset += pageSize {
			docs, err := store.QueryDocuments(ctx, storage.Query{
				Index:      index,
				CommitHash: snap.CommitHash,
				Limit:      pageSize,
				Offset:     offset,
			})
			if err != nil {
				zw.Close()
				return stats, err
			}
			for _, d := range docs {
				if err := enc.Encode(line{Dataset: prefix, ID: d.ID, Body: d.Body}); err != nil {
					zw.Close()
					return stats, fmt.Errorf("writing %s: %w", d.ID, err)
				}
			}
			stats.Documents[prefix] += len(docs)
			if len(docs) < pageSize {
				break
			}
		}
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return stats, err
	}
	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("closing zstd writer: %w", err)
	}
	logger(opts).Info("snapshot exported",
		"repo", snap.Repo, "commit", snap.CommitHash, "documents", stats.Total())
	return stats, nil
}

func pick(ctx context.Context, store storage.Storage, opts Options) (*storage.SnapshotRecord, error) {
	if opts.CommitHash != "" {
		snap, err := store.GetSnapshot(ctx, opts.Repo, opts.CommitHash)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", opts.CommitHash, err)
		}
		if !snap.Done() {
			return nil, fmt.Errorf("snapshot %s is %s, not completed", opts.CommitHash, snap.Status)
		}
		return snap, nil
	}
	st, err := store.GetStatus(ctx, opts.Repo)
	if err != nil {
		return nil, err
	}
	if st.Latest == nil || !st.Latest.Done() {
		return nil, fmt.Errorf("no completed latest snapshot for %s: %w", opts.Repo, storage.ErrNotFound)
	}
	return st.Latest, nil
}

// Import reads an archive into store under opts.Repo (default: the
// archive's repository) and records it as a completed snapshot. A latest
// snapshot also replaces the latest mirror.
func Import(ctx context.Context, store storage.Storage, r io.Reader, opts Options) (Stats, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	var stats Stats
	if err := dec.Decode(&stats.Header); err != nil {
		return stats, fmt.Errorf("reading header: %w: %v", ErrBadArchive, err)
	}
	h := stats.Header
	if h.Version != FormatVersion {
		return stats, fmt.Errorf("archive version %d: %w", h.Version, ErrBadArchive)
	}
	if h.CommitHash == "" {
		return stats, fmt.Errorf("archive has no commit: %w", ErrBadArchive)
	}
	repo := opts.Repo
	if repo == "" {
		repo = h.Repo
	}
	stats.Documents = make(map[string]int)

	byDataset := make(map[string][]line)
	for {
		var l line
		err := dec.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading document: %w: %v", ErrBadArchive, err)
		}
		if !validDataset(l.Dataset) || l.ID == "" {
			return stats, fmt.Errorf("document %q in dataset %q: %w", l.ID, l.Dataset, ErrBadArchive)
		}
		byDataset[l.Dataset] = append(byDataset[l.Dataset], l)
	}

	rec := &storage.SnapshotRecord{
		Repo:         repo,
		CommitHash:   h.CommitHash,
		CommitDate:   h.CommitDate,
		CheckoutDate: h.CheckoutDate,
		IsLatest:     h.IsLatest,
		RunID:        h.RunID,
	}
	if err := store.BeginSnapshot(ctx, rec); err != nil {
		return stats, err
	}

	encode := func(prefix string, latest bool) []storage.Document {
		index := storage.IndexName(prefix, repo, latest)
		docs := make([]storage.Document, 0, len(byDataset[prefix]))
		for _, l := range byDataset[prefix] {
			id := l.ID
			if latest {
				id = stripCommit(prefix, id, h.CommitHash)
			}
			docs = append(docs, storage.Document{
				Index:      index,
				ID:         id,
				CommitHash: h.CommitHash,
				CommitDate: h.CommitDate,
				Body:       l.Body,
			})
		}
		return docs
	}

	for _, prefix := range datasets {
		n, werr := storage.UpsertBatches(ctx, store, encode(prefix, false), opts.BatchSize)
		stats.Documents[prefix] = n
		if werr != nil {
			err = werr
			break
		}
	}
	if err == nil && h.IsLatest {
		var mirror []storage.Document
		indexes := make([]string, 0, len(datasets))
		for _, prefix := range datasets {
			indexes = append(indexes, storage.IndexName(prefix, repo, true))
			mirror = append(mirror, encode(prefix, true)...)
		}
		_, err = storage.ReplaceIndexes(ctx, store, indexes, mirror, opts.BatchSize)
	}
	if err != nil {
		rec.Status = storage.SnapshotFailed
		rec.Error = err.Error()
	}
	rec.APICount = stats.Documents[storage.PrefixAPI]
	rec.RefCount = stats.Documents[storage.PrefixReferences]
	rec.UnitCount = stats.Documents[storage.PrefixUnits]
	if cerr := store.CompleteSnapshot(context.WithoutCancel(ctx), rec); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return stats, fmt.Errorf("import %s: %w", h.CommitHash, err)
	}

	logger(opts).Info("snapshot imported", "repo", repo, "commit", h.CommitHash, "documents", stats.Total())
	return stats, nil
}

func validDataset(s string) bool {
	for _, d := range datasets {
		if s == d {
			return true
		}
	}
	return false
}

// stripCommit turns a commit-scoped document id into the latest mirror id.
// API and unit ids carry the commit as a suffix, reference ids as a prefix.
func stripCommit(prefix, id, commit string) string {
	if prefix == storage.PrefixReferences {
		if s, ok := strings.CutPrefix(id, commit+"."); ok {
			return s
		}
		return id
	}
	if s, ok := strings.CutSuffix(id, "."+commit); ok {
		return s
	}
	return id
}
