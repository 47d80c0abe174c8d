// Package resolver turns API elements into cross-boundary reference records.
//
// For every element the source host's reference finder is queried once; each
// usage site is attributed to its owning unit and kept only when that unit
// differs from the element's own. Records are keyed by (api id, file, line)
// so revisiting a usage never counts it twice. The element's finder handle is
// released as soon as the element is done.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/apisurface/internal/apiid"
	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/internal/ownership"
	"github.com/dshills/apisurface/pkg/types"
)

// Options configures a Resolver.
type Options struct {
	// Workers bounds concurrent reference queries. Values below 2 resolve
	// sequentially.
	Workers int
	Logger  *slog.Logger
}

// Stats summarizes one resolution pass.
type Stats struct {
	Elements     int // elements processed
	Unattributed int // elements skipped for lack of an owner
	Sites        int // usage sites returned by the host
	SameUnit     int // sites dropped as same-unit
	Unowned      int // sites dropped for lack of an owner
	Invalid      int // sites dropped for a non-positive line
	Duplicates   int // sites already recorded
	Records      int // new records
	Failures     int // elements whose finder failed
	Warnings     []string
}

// Resolver queries the host for every element's usages.
type Resolver struct {
	owners  ownership.Resolver
	workers int
	logger  *slog.Logger
}

// New creates a resolver attributing files through owners.
func New(owners ownership.Resolver, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{owners: owners, workers: opts.Workers, logger: logger}
}

// Accumulator collects reference records by key. It is safe for concurrent use.
type Accumulator struct {
	mu   sync.Mutex
	refs map[types.RefKey]types.ReferenceRecord
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{refs: make(map[types.RefKey]types.ReferenceRecord)}
}

// insert adds rec unless its key is present and reports whether it was added.
func (a *Accumulator) insert(key types.RefKey, rec types.ReferenceRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.refs[key]; ok {
		return false
	}
	a.refs[key] = rec
	return true
}

// Len returns the number of records.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.refs)
}

// Records returns a copy of the accumulated records.
func (a *Accumulator) Records() map[types.RefKey]types.ReferenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.RefKey]types.ReferenceRecord, len(a.refs))
	for k, v := range a.refs {
		out[k] = v
	}
	return out
}

// Keys returns the record keys in order.
func (a *Accumulator) Keys() []types.RefKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]types.RefKey, 0, len(a.refs))
	for k := range a.refs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Resolve resolves elems into a fresh accumulator and returns its records.
func (r *Resolver) Resolve(ctx context.Context, elems []*types.ApiElement) (map[types.RefKey]types.ReferenceRecord, Stats, error) {
	acc := NewAccumulator()
	stats, err := r.ResolveInto(ctx, acc, elems)
	if err != nil {
		return nil, stats, err
	}
	return acc.Records(), stats, nil
}

// ResolveInto resolves elems, adding new records to acc and incrementing each
// element's CrossBoundaryRefCount once per new record. It returns an error
// only when the host is unavailable or ctx is done.
func (r *Resolver) ResolveInto(ctx context.Context, acc *Accumulator, elems []*types.ApiElement) (Stats, error) {
	run := &pass{r: r, acc: acc}

	if r.workers < 2 {
		for _, a := range elems {
			if err := ctx.Err(); err != nil {
				return run.snapshot(), err
			}
			if err := run.element(ctx, a); err != nil {
				return run.snapshot(), err
			}
		}
		return run.snapshot(), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, a := range elems {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return run.element(gctx, a)
		})
	}
	err := g.Wait()
	return run.snapshot(), err
}

// pass holds the mutable state of one ResolveInto call.
type pass struct {
	r   *Resolver
	acc *Accumulator

	mu    sync.Mutex
	stats Stats
}

func (p *pass) snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Warnings = append([]string(nil), p.stats.Warnings...)
	return s
}

func (p *pass) count(fn func(s *Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

func (p *pass) warn(msg string, args ...any) {
	p.r.logger.Warn(msg, args...)
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 1; i < len(args); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", args[i-1], args[i])
	}
	p.count(func(s *Stats) { s.Warnings = append(s.Warnings, sb.String()) })
}

func (p *pass) element(ctx context.Context, a *types.ApiElement) (err error) {
	finder := a.Finder()
	defer func() {
		host.Release(finder)
		a.ReleaseFinder()
	}()
	p.count(func(s *Stats) { s.Elements++ })

	owner, ok := p.r.owners.Resolve(a.FilePath)
	if !ok {
		p.count(func(s *Stats) { s.Unattributed++ })
		p.warn("api element has no owning unit, skipped", "api", a.ID, "file", a.FilePath)
		return nil
	}

	sites, err := find(ctx, finder)
	if err != nil {
		if errors.Is(err, host.ErrUnavailable) {
			return fmt.Errorf("find references of %s: %w", a.ID, err)
		}
		p.count(func(s *Stats) { s.Failures++ })
		p.warn("reference lookup failed, element skipped", "api", a.ID, "error", err)
		return nil
	}

	id := apiid.Of(a)
	source := types.ReferenceSource{
		APIID:     id,
		Unit:      a.Unit,
		TeamOwner: a.TeamOwner,
		FilePath:  a.FilePath,
		Name:      a.Name,
		Surface:   a.Surface,
		IsStatic:  a.IsStatic,
		Stage:     a.Stage,
	}

	for _, site := range sites {
		p.count(func(s *Stats) { s.Sites++ })
		if site.Line <= 0 {
			p.count(func(s *Stats) { s.Invalid++ })
			p.r.logger.Debug("usage site without a line dropped", "api", id, "file", site.FilePath)
			continue
		}
		u, ok := p.r.owners.Resolve(site.FilePath)
		if !ok {
			p.count(func(s *Stats) { s.Unowned++ })
			p.r.logger.Debug("usage site has no owning unit", "api", id, "file", site.FilePath)
			continue
		}
		if u.Name == owner.Name || u.Name == a.Unit {
			p.count(func(s *Stats) { s.SameUnit++ })
			continue
		}

		key := apiid.RefKey(a, site.FilePath, site.Line)
		rec := types.ReferenceRecord{
			Source: source,
			Reference: types.ReferenceSite{
				Unit:      u.Name,
				TeamOwner: u.TeamOwner,
				FilePath:  site.FilePath,
				Line:      site.Line,
			},
		}
		if !p.acc.insert(key, rec) {
			p.count(func(s *Stats) { s.Duplicates++ })
			continue
		}
		a.CrossBoundaryRefCount++
		p.count(func(s *Stats) { s.Records++ })
	}
	return nil
}

// find calls the finder, converting a panic into an error.
func find(ctx context.Context, f types.ReferenceFinder) (sites []types.UsageSite, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.FindReferences(ctx)
}
