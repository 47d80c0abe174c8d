package snapshot

import (
	"sort"
	"time"

	"github.com/dshills/apisurface/internal/aggregate"
	"github.com/dshills/apisurface/internal/apiid"
	"github.com/dshills/apisurface/pkg/types"
)

// Commit tags every persisted document with the snapshot it belongs to.
type Commit struct {
	CommitHash   string    `json:"commitHash"`
	CommitDate   time.Time `json:"commitDate"`
	CheckoutDate string    `json:"checkoutDate,omitempty"`
}

func commitOf(s types.Snapshot) Commit {
	return Commit{CommitHash: s.CommitHash, CommitDate: s.CommitDate, CheckoutDate: s.CheckoutDate}
}

// APIDocument is the persisted form of an API element.
type APIDocument struct {
	types.ApiElement
	Commit
}

// ReferenceDocument is the persisted form of a reference record.
type ReferenceDocument struct {
	types.ReferenceRecord
	Commit
}

// UnitDocument is the persisted unit inventory entry.
type UnitDocument struct {
	types.OwningUnit
	APICount int `json:"apiCount"`
	RefCount int `json:"refCount"`
	Commit
}

// Documents is everything one snapshot persists.
type Documents struct {
	APIs  []APIDocument
	Refs  []ReferenceDocument
	Units []UnitDocument
}

// BuildDocuments renders an aggregated result and the unit inventory as
// documents, in deterministic order. Unit counts sum the APIs a unit exposes
// and the cross-boundary references those APIs receive.
func BuildDocuments(snap types.Snapshot, res *aggregate.Result, units []types.OwningUnit) Documents {
	c := commitOf(snap)
	var out Documents

	apiCount := make(map[string]int)
	refCount := make(map[string]int)
	for _, a := range res.SortedAPIs() {
		out.APIs = append(out.APIs, APIDocument{ApiElement: *a, Commit: c})
		apiCount[a.Unit]++
		refCount[a.Unit] += a.CrossBoundaryRefCount
	}
	for _, r := range res.SortedRefs() {
		out.Refs = append(out.Refs, ReferenceDocument{ReferenceRecord: r, Commit: c})
	}

	sorted := append([]types.OwningUnit(nil), units...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, u := range sorted {
		out.Units = append(out.Units, UnitDocument{
			OwningUnit: u,
			APICount:   apiCount[u.Name],
			RefCount:   refCount[u.Name],
			Commit:     c,
		})
	}
	return out
}

// Document id functions. The commit-scoped form is used for the primary
// datasets; the latest mirror passes an empty commit.

func apiDocID(commit string) func(APIDocument) string {
	return func(d APIDocument) string { return apiid.APIDocID(commit, d.ID) }
}

func refDocID(commit string) func(ReferenceDocument) string {
	return func(d ReferenceDocument) string { return apiid.RefDocID(commit, d.Key()) }
}

func unitDocID(commit string) func(UnitDocument) string {
	return func(d UnitDocument) string { return apiid.UnitDocID(commit, d.Name) }
}
