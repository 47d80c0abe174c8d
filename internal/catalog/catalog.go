// Package catalog answers questions about persisted snapshots: which APIs a
// unit exposes, who consumes them and which units exist. Queries against the
// latest snapshot read the -latest mirror; queries for a commit read the
// commit-scoped datasets.
package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
	"github.com/dshills/apisurface/pkg/types"
)

// ErrNoSnapshot is returned when the requested snapshot is not available.
var ErrNoSnapshot = errors.New("snapshot not available")

// DefaultCacheTTL is how long a query result is served from cache.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Catalog reads the datasets of one repository.
type Catalog struct {
	store storage.Storage
	repo  string
	ttl   time.Duration

	cacheMu sync.RWMutex
	cache   *lru.Cache[[32]byte, *cacheEntry]
}

// New creates a catalog over store for repo. A ttl <= 0 disables caching.
func New(store storage.Storage, repo string, ttl time.Duration) *Catalog {
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Catalog{store: store, repo: repo, ttl: ttl, cache: cache}
}

// Repo is the repository the catalog reads.
func (c *Catalog) Repo() string { return c.repo }

// Snapshot returns the completed snapshot of commit, or the latest one when
// commit is empty.
func (c *Catalog) Snapshot(ctx context.Context, commit string) (*storage.SnapshotRecord, error) {
	if commit == "" {
		st, err := c.store.GetStatus(ctx, c.repo)
		if err != nil {
			return nil, err
		}
		if st.Latest == nil {
			return nil, fmt.Errorf("latest of %s: %w", c.repo, ErrNoSnapshot)
		}
		return st.Latest, nil
	}
	snap, err := c.store.GetSnapshot(ctx, c.repo, commit)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !snap.Done()) {
		return nil, fmt.Errorf("%s@%s: %w", c.repo, commit, ErrNoSnapshot)
	}
	return snap, err
}

// Snapshots lists the repository's snapshots, newest commit first.
func (c *Catalog) Snapshots(ctx context.Context, limit int) ([]*storage.SnapshotRecord, error) {
	return c.store.ListSnapshots(ctx, c.repo, limit)
}

// APIFilter narrows a unit's API listing.
type APIFilter struct {
	Surface  types.Surface // "" for both
	Stage    types.Stage   // only used with Static false
	Static   *bool
	MinRefs  int
	OrderRef bool // most referenced first instead of by id
}

// UnitAPI returns the API elements exposed by unit.
func (c *Catalog) UnitAPI(ctx context.Context, commit, unit string, f APIFilter) ([]snapshot.APIDocument, error) {
	where := map[string]any{"plugin": unit}
	if f.Surface != "" {
		where["publicOrServer"] = string(f.Surface)
	}
	if f.Static != nil {
		where["isStatic"] = *f.Static
		if !*f.Static && f.Stage != types.StageNone {
			where["lifecycle"] = string(f.Stage)
		}
	}
	q := storage.Query{Where: where}
	if f.OrderRef {
		q.OrderBy, q.Desc = "refCount", true
	}

	docs, err := cached(c, ctx, "api", commit, q, decodeAll[snapshot.APIDocument])
	if err != nil {
		return nil, err
	}
	if f.MinRefs <= 0 {
		return docs, nil
	}
	out := docs[:0:0]
	for _, d := range docs {
		if d.CrossBoundaryRefCount >= f.MinRefs {
			out = append(out, d)
		}
	}
	return out, nil
}

// API returns one API element by id.
func (c *Catalog) API(ctx context.Context, commit, apiID string) (*snapshot.APIDocument, error) {
	docs, err := cached(c, ctx, "api", commit, storage.Query{Where: map[string]any{"id": apiID}}, decodeAll[snapshot.APIDocument])
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("api %s: %w", apiID, storage.ErrNotFound)
	}
	return &docs[0], nil
}

// Consumers returns the cross-boundary references to apiID.
func (c *Catalog) Consumers(ctx context.Context, commit, apiID string) ([]snapshot.ReferenceDocument, error) {
	q := storage.Query{Where: map[string]any{"source.id": apiID}}
	return cached(c, ctx, "references", commit, q, decodeAll[snapshot.ReferenceDocument])
}

// UnitConsumers returns every cross-boundary reference into unit's APIs.
func (c *Catalog) UnitConsumers(ctx context.Context, commit, unit string) ([]snapshot.ReferenceDocument, error) {
	q := storage.Query{Where: map[string]any{"source.plugin": unit}}
	return cached(c, ctx, "references", commit, q, decodeAll[snapshot.ReferenceDocument])
}

// Units returns the unit inventory ordered by name.
func (c *Catalog) Units(ctx context.Context, commit string) ([]snapshot.UnitDocument, error) {
	q := storage.Query{OrderBy: "name"}
	return cached(c, ctx, "units", commit, q, decodeAll[snapshot.UnitDocument])
}

// Tally counts references per consuming unit.
type Tally struct {
	Unit  string `json:"plugin"`
	Team  string `json:"team"`
	Count int    `json:"count"`
}

// ByConsumer groups references by the unit they come from, most
// references first.
func ByConsumer(refs []snapshot.ReferenceDocument) []Tally {
	idx := make(map[string]int)
	var out []Tally
	for _, r := range refs {
		i, ok := idx[r.Reference.Unit]
		if !ok {
			i = len(out)
			idx[r.Reference.Unit] = i
			out = append(out, Tally{Unit: r.Reference.Unit, Team: r.Reference.TeamOwner})
		}
		out[i].Count++
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Unit < out[j].Unit
	})
	return out
}

// InvalidateCache drops every cached result. Call after a run persisted new
// data.
func (c *Catalog) InvalidateCache() {
	c.cacheMu.Lock()
	c.cache.Purge()
	c.cacheMu.Unlock()
}

func decodeAll[T any](docs []storage.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := storage.Decode[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// cached runs q against the dataset of commit, serving repeated queries
// from the cache until they expire.
func cached[T any](c *Catalog, ctx context.Context, prefix, commit string, q storage.Query, decode func([]storage.Document) ([]T, error)) ([]T, error) {
	latest := commit == ""
	q.Index = storage.IndexName(prefix, c.repo, latest)
	if !latest {
		q.CommitHash = commit
	}

	key := queryKey(q)
	if c.ttl > 0 {
		c.cacheMu.RLock()
		entry, ok := c.cache.Get(key)
		c.cacheMu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			if v, ok := entry.value.([]T); ok {
				return v, nil
			}
		}
	}

	docs, err := c.store.QueryDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	out, err := decode(docs)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.cacheMu.Lock()
		c.cache.Add(key, &cacheEntry{value: out, expiresAt: time.Now().Add(c.ttl)})
		c.cacheMu.Unlock()
	}
	return out, nil
}

func queryKey(q storage.Query) [32]byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%t|%d|%d", q.Index, q.CommitHash, q.OrderBy, q.Desc, q.Limit, q.Offset)
	keys := make([]string, 0, len(q.Where))
	for k := range q.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%v", k, q.Where[k])
	}
	return sha256.Sum256([]byte(sb.String()))
}
