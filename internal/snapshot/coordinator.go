// Package snapshot drives the extraction pipeline once per requested commit:
// check out, build the ownership registry, classify every index and plugin
// module under each host configuration, resolve cross-boundary references,
// merge the passes and persist the result.
//
// A failure aborts only the date being processed. It is logged, recorded on
// the snapshot row and reported in the run summary; the run then moves on to
// the next date.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/apisurface/internal/aggregate"
	"github.com/dshills/apisurface/internal/classifier"
	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/internal/ownership"
	"github.com/dshills/apisurface/internal/resolver"
	"github.com/dshills/apisurface/internal/storage"
	"github.com/dshills/apisurface/internal/tshost"
	"github.com/dshills/apisurface/pkg/types"
)

// ErrRunInProgress is returned when a run is attempted while another holds
// the coordinator.
var ErrRunInProgress = errors.New("snapshot run already in progress")

// State is a step of the per-date state machine.
type State string

const (
	StateCheckout      State = "CHECKOUT"
	StateBuildRegistry State = "BUILD_REGISTRY"
	StateClassify      State = "CLASSIFY"
	StateResolve       State = "RESOLVE_REFERENCES"
	StateAggregate     State = "AGGREGATE"
	StatePersist       State = "PERSIST"
	StateDone          State = "DONE"
)

// Checkouter moves a work tree to the commit a date designates. An empty
// date designates the branch tip.
type Checkouter interface {
	Checkout(ctx context.Context, date string) (types.Snapshot, error)
	Dir() string
}

// Registry is the ownership registry a snapshot is attributed with.
type Registry interface {
	ownership.Resolver
	AllUnits() []types.OwningUnit
}

// HostConfig is one module-resolution setup. Each produces one pass.
type HostConfig struct {
	Name     string
	Include  []string
	Exclude  []string
	BaseDirs []string
	Aliases  map[string]string
}

// HostLoader opens a source host over the work tree for one configuration.
type HostLoader func(ctx context.Context, root string, cfg HostConfig) (host.Host, error)

// RegistryBuilder builds the ownership registry of the checked-out tree.
type RegistryBuilder func(ctx context.Context, root string) (Registry, error)

// Options configures a Coordinator.
type Options struct {
	Repo       string   // owner/name, used for dataset names
	Dates      []string // checkout dates; "" is the branch tip (default: [""])
	Hosts      []HostConfig
	Force      bool // re-index commits that already have a completed snapshot
	BatchSize  int  // documents per persistence batch (default: storage.DefaultBatchSize)
	Classifier classifier.Options
	Resolver   resolver.Options
	Ownership  ownership.Options

	LoadHost      HostLoader      // default: tshost
	BuildRegistry RegistryBuilder // default: ownership.Build
	Logger        *slog.Logger
}

// PassStats describes one host configuration's pass.
type PassStats struct {
	Host     string
	Modules  int
	Elements int
	Records  int
	Classify classifier.Stats
	Resolve  resolver.Stats
}

// DateResult is the outcome of one requested date.
type DateResult struct {
	Date       string
	Snapshot   types.Snapshot
	State      State // last state entered
	Skipped    bool  // commit already indexed
	APIs       int
	Refs       int
	Units      int
	Passes     []PassStats
	Collisions []aggregate.Collision
	Warnings   int
	Err        error
	Duration   time.Duration
}

// Summary is the outcome of a run.
type Summary struct {
	RunID    string
	Results  []DateResult
	Duration time.Duration
}

// Failed counts dates that did not complete.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Coordinator runs snapshots. One run at a time.
type Coordinator struct {
	repo   Checkouter
	store  storage.Storage
	opts   Options
	logger *slog.Logger
	lock   RunLock
}

// New creates a coordinator, filling unset options with defaults.
func New(repo Checkouter, store storage.Storage, opts Options) *Coordinator {
	if len(opts.Dates) == 0 {
		opts.Dates = []string{""}
	}
	if len(opts.Hosts) == 0 {
		opts.Hosts = []HostConfig{{Name: "default"}}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = storage.DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LoadHost == nil {
		opts.LoadHost = tsHostLoader(opts.Ownership.Manifest, opts.Logger)
	}
	if opts.BuildRegistry == nil {
		own := opts.Ownership
		if own.Logger == nil {
			own.Logger = opts.Logger
		}
		opts.BuildRegistry = func(ctx context.Context, root string) (Registry, error) {
			return ownership.Build(ctx, root, own)
		}
	}
	return &Coordinator{repo: repo, store: store, opts: opts, logger: opts.Logger}
}

func tsHostLoader(manifest string, logger *slog.Logger) HostLoader {
	return func(ctx context.Context, root string, cfg HostConfig) (host.Host, error) {
		return tshost.Load(ctx, tshost.Config{
			Name:     cfg.Name,
			Root:     root,
			Include:  cfg.Include,
			Exclude:  cfg.Exclude,
			BaseDirs: cfg.BaseDirs,
			Aliases:  cfg.Aliases,
			Manifest: manifest,
			Logger:   logger,
		})
	}
}

// Running reports whether a run is in progress.
func (c *Coordinator) Running() bool { return c.lock.Held() }

// Run processes every configured date in order. Per-date failures are
// reported in the summary; the returned error is only set when the run could
// not start or the context was cancelled.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	return c.RunDates(ctx, c.opts.Dates, c.opts.Force)
}

// RunDates is Run over an explicit date list. A nil list means the
// configured dates.
func (c *Coordinator) RunDates(ctx context.Context, dates []string, force bool) (*Summary, error) {
	if dates == nil {
		dates = c.opts.Dates
	}
	if !c.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer c.lock.Release()

	start := time.Now()
	sum := &Summary{RunID: uuid.NewString()}
	logger := c.logger.With("run_id", sum.RunID, "repo", c.opts.Repo)
	logger.Info("snapshot run started", "dates", len(dates), "hosts", len(c.opts.Hosts), "force", force)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		res := c.runDate(ctx, logger, sum.RunID, date, force)
		if res.Err != nil {
			logger.Error("snapshot failed", "date", label(date), "state", res.State, "error", res.Err)
		}
		sum.Results = append(sum.Results, res)
	}

	sum.Duration = time.Since(start)
	logger.Info("snapshot run finished",
		"dates", len(sum.Results), "failed", sum.Failed(), "duration", sum.Duration)
	return sum, nil
}

func label(date string) string {
	if date == "" {
		return "latest"
	}
	return date
}

func (c *Coordinator) runDate(ctx context.Context, logger *slog.Logger, runID, date string, force bool) (res DateResult) {
	start := time.Now()
	res = DateResult{Date: date, State: StateCheckout}
	defer func() { res.Duration = time.Since(start) }()

	snap, err := c.repo.Checkout(ctx, date)
	if err != nil {
		res.Err = fmt.Errorf("checkout %s: %w", label(date), err)
		return res
	}
	snap.RunID = runID
	res.Snapshot = snap
	logger = logger.With("commit", snap.CommitHash, "date", label(date))

	if !force && !snap.IsLatest {
		prev, err := c.store.GetSnapshot(ctx, c.opts.Repo, snap.CommitHash)
		switch {
		case err == nil && prev.Done():
			logger.Info("commit already indexed, skipping")
			res.Skipped = true
			res.State = StateDone
			return res
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			res.Err = fmt.Errorf("check snapshot %s: %w", snap.CommitHash, err)
			return res
		}
	}

	rec := &storage.SnapshotRecord{
		Repo:         c.opts.Repo,
		CommitHash:   snap.CommitHash,
		CommitDate:   snap.CommitDate,
		CheckoutDate: snap.CheckoutDate,
		IsLatest:     snap.IsLatest,
		RunID:        runID,
	}
	if err := c.store.BeginSnapshot(ctx, rec); err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if res.Err != nil {
			rec.Status = storage.SnapshotFailed
			rec.Error = res.Err.Error()
		}
		rec.APICount, rec.RefCount, rec.UnitCount = res.APIs, res.Refs, res.Units
		// record the outcome even when ctx was cancelled mid-run
		if err := c.store.CompleteSnapshot(context.WithoutCancel(ctx), rec); err != nil {
			logger.Error("failed to record snapshot outcome", "error", err)
		}
	}()

	res.State = StateBuildRegistry
	reg, err := c.opts.BuildRegistry(ctx, c.repo.Dir())
	if err != nil {
		res.Err = fmt.Errorf("build ownership registry: %w", err)
		return res
	}

	merger := aggregate.NewMerger(logger)
	for _, hc := range c.opts.Hosts {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		ps, err := c.pass(ctx, logger, &res, reg, hc, merger)
		res.Passes = append(res.Passes, ps)
		res.Warnings += len(ps.Classify.Warnings) + len(ps.Resolve.Warnings)
		if err != nil {
			res.Err = fmt.Errorf("host %s: %w", hc.Name, err)
			return res
		}
	}

	res.State = StateAggregate
	result := merger.Result()
	res.Collisions = merger.Collisions()
	res.Warnings += len(res.Collisions)
	units := reg.AllUnits()
	res.APIs, res.Refs, res.Units = len(result.APIs), len(result.Refs), len(units)

	res.State = StatePersist
	if err := Persist(ctx, c.store, c.opts.Repo, snap, BuildDocuments(snap, result, units), c.opts.BatchSize); err != nil {
		res.Err = err
		return res
	}

	res.State = StateDone
	logger.Info("snapshot persisted",
		"apis", res.APIs, "references", res.Refs, "units", res.Units,
		"collisions", len(res.Collisions), "warnings", res.Warnings)
	return res
}

// pass classifies and resolves under one host configuration and folds the
// outcome into merger.
func (c *Coordinator) pass(ctx context.Context, logger *slog.Logger, res *DateResult, reg Registry, hc HostConfig, merger *aggregate.Merger) (PassStats, error) {
	ps := PassStats{Host: hc.Name}
	logger = logger.With("host", hc.Name)

	res.State = StateClassify
	h, err := c.opts.LoadHost(ctx, c.repo.Dir(), hc)
	if err != nil {
		return ps, fmt.Errorf("load host: %w", err)
	}
	defer func() { _ = h.Close() }()

	mods, err := h.Modules(ctx)
	if err != nil {
		return ps, err
	}
	ps.Modules = len(mods)

	copts := c.opts.Classifier
	copts.Logger = logger
	cls := classifier.New(copts)

	var elems []*types.ApiElement
	for _, m := range mods {
		if cls.Role(m.Path()) == classifier.RoleNone {
			continue
		}
		unit, ok := reg.Resolve(m.Path())
		if !ok {
			logger.Warn("module has no owning unit, skipped", "module", m.Path())
			continue
		}
		out, err := cls.Classify(m, unit)
		if err != nil {
			ps.Classify = cls.Stats()
			return ps, err
		}
		elems = append(elems, out...)
	}
	ps.Classify = cls.Stats()
	ps.Elements = len(elems)

	res.State = StateResolve
	ropts := c.opts.Resolver
	ropts.Logger = logger
	refs, rstats, err := resolver.New(reg, ropts).Resolve(ctx, elems)
	ps.Resolve = rstats
	if err != nil {
		return ps, err
	}
	ps.Records = len(refs)

	merger.Add(aggregate.FromPass(elems, refs))
	logger.Info("pass complete", "modules", ps.Modules, "elements", ps.Elements, "references", ps.Records)
	return ps, nil
}

// Persist writes docs to the commit-scoped datasets of repo and, when snap is
// the branch tip, replaces the latest mirror with them in one transaction.
func Persist(ctx context.Context, store storage.Storage, repo string, snap types.Snapshot, docs Documents, batchSize int) error {
	if _, err := storage.BulkUpsert(ctx, store, storage.IndexName(storage.PrefixAPI, repo, false), snap, docs.APIs, apiDocID(snap.CommitHash), batchSize); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if _, err := storage.BulkUpsert(ctx, store, storage.IndexName(storage.PrefixReferences, repo, false), snap, docs.Refs, refDocID(snap.CommitHash), batchSize); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if _, err := storage.BulkUpsert(ctx, store, storage.IndexName(storage.PrefixUnits, repo, false), snap, docs.Units, unitDocID(snap.CommitHash), batchSize); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if !snap.IsLatest {
		return nil
	}

	mirror, err := mirrorDocuments(repo, snap, docs)
	if err != nil {
		return fmt.Errorf("persist latest mirror: %w", err)
	}
	indexes := []string{
		storage.IndexName(storage.PrefixAPI, repo, true),
		storage.IndexName(storage.PrefixReferences, repo, true),
		storage.IndexName(storage.PrefixUnits, repo, true),
	}
	if _, err := storage.ReplaceIndexes(ctx, store, indexes, mirror, batchSize); err != nil {
		return fmt.Errorf("persist latest mirror: %w", err)
	}
	return nil
}

// mirrorDocuments encodes docs for the latest mirror, keyed without a commit.
func mirrorDocuments(repo string, snap types.Snapshot, docs Documents) ([]storage.Document, error) {
	apis, err := storage.Encode(storage.IndexName(storage.PrefixAPI, repo, true), snap, docs.APIs, apiDocID(""))
	if err != nil {
		return nil, err
	}
	refs, err := storage.Encode(storage.IndexName(storage.PrefixReferences, repo, true), snap, docs.Refs, refDocID(""))
	if err != nil {
		return nil, err
	}
	units, err := storage.Encode(storage.IndexName(storage.PrefixUnits, repo, true), snap, docs.Units, unitDocID(""))
	if err != nil {
		return nil, err
	}
	out := make([]storage.Document, 0, len(apis)+len(refs)+len(units))
	out = append(out, apis...)
	out = append(out, refs...)
	return append(out, units...), nil
}
