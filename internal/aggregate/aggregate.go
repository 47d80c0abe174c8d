// Package aggregate merges the results of several extraction passes into one
// canonical set of API elements and reference records.
package aggregate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dshills/apisurface/pkg/types"
)

// Result is the output of one extraction pass, or of a merge.
type Result struct {
	APIs map[string]*types.ApiElement
	Refs map[types.RefKey]types.ReferenceRecord
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{
		APIs: make(map[string]*types.ApiElement),
		Refs: make(map[types.RefKey]types.ReferenceRecord),
	}
}

// FromPass builds a result from one pass's elements and records. Within a
// pass ids are unique; a repeated id keeps the later element.
func FromPass(elems []*types.ApiElement, refs map[types.RefKey]types.ReferenceRecord) *Result {
	r := NewResult()
	for _, e := range elems {
		r.APIs[e.ID] = e
	}
	for k, v := range refs {
		r.Refs[k] = v
	}
	return r
}

// Collision records an API id produced by more than one pass.
type Collision struct {
	ID          string
	OldRefCount int
	NewRefCount int
}

// Merger folds results together.
type Merger struct {
	logger     *slog.Logger
	acc        *Result
	collisions []Collision
	refDups    int
}

// NewMerger returns a merger logging to logger (nil means slog.Default).
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger, acc: NewResult()}
}

// Add folds r into the accumulated result. API elements are last-write-wins
// with a warning; reference records are first-write-wins.
func (m *Merger) Add(r *Result) {
	if r == nil {
		return
	}
	for _, id := range sortedIDs(r.APIs) {
		next := r.APIs[id]
		if prev, ok := m.acc.APIs[id]; ok {
			m.collisions = append(m.collisions, Collision{
				ID:          id,
				OldRefCount: prev.CrossBoundaryRefCount,
				NewRefCount: next.CrossBoundaryRefCount,
			})
			m.logger.Warn("duplicate api id across passes, keeping the later element",
				"api", id,
				"previous_ref_count", prev.CrossBoundaryRefCount,
				"ref_count", next.CrossBoundaryRefCount)
		}
		m.acc.APIs[id] = next
	}
	for k, v := range r.Refs {
		if _, ok := m.acc.Refs[k]; ok {
			m.refDups++
			continue
		}
		m.acc.Refs[k] = v
	}
}

// Result returns the merged result.
func (m *Merger) Result() *Result { return m.acc }

// Collisions returns the API id collisions seen so far.
func (m *Merger) Collisions() []Collision { return m.collisions }

// DuplicateRefs counts reference records dropped as already present.
func (m *Merger) DuplicateRefs() int { return m.refDups }

// Warnings renders the collisions as human-readable warnings.
func (m *Merger) Warnings() []string {
	out := make([]string, len(m.collisions))
	for i, c := range m.collisions {
		out[i] = fmt.Sprintf("duplicate api id %s: ref count %d replaced by %d", c.ID, c.OldRefCount, c.NewRefCount)
	}
	return out
}

// Merge folds results in order with a default merger.
func Merge(logger *slog.Logger, results ...*Result) *Result {
	m := NewMerger(logger)
	for _, r := range results {
		m.Add(r)
	}
	return m.Result()
}

// SortedAPIs returns the elements ordered by id.
func (r *Result) SortedAPIs() []*types.ApiElement {
	out := make([]*types.ApiElement, 0, len(r.APIs))
	for _, id := range sortedIDs(r.APIs) {
		out = append(out, r.APIs[id])
	}
	return out
}

// SortedRefs returns the records ordered by key.
func (r *Result) SortedRefs() []types.ReferenceRecord {
	keys := make([]types.RefKey, 0, len(r.Refs))
	for k := range r.Refs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]types.ReferenceRecord, len(keys))
	for i, k := range keys {
		out[i] = r.Refs[k]
	}
	return out
}

func sortedIDs(m map[string]*types.ApiElement) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
