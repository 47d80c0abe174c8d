// Package ownership maps repo-relative file paths to the unit (plugin) that
// owns them.
//
// A Registry is built once per commit from the CODEOWNERS file and the unit
// manifests found below each owned path. Paths no registered unit covers fall
// back to a bounded upward search for a manifest; units found that way are
// appended to the registry so later lookups see them.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/apisurface/pkg/types"
)

// Resolver resolves a file path to its owning unit.
type Resolver interface {
	Resolve(filePath string) (types.OwningUnit, bool)
}

// Options configures registry construction and lookup.
type Options struct {
	CodeOwners     string   // relative to root (default: .github/CODEOWNERS)
	Manifest       string   // unit manifest file name (default: kibana.json)
	CoreDir        string   // platform core directory (default: src/core)
	CoreUnit       string   // name of the core unit (default: core)
	Skip           []string // gitignore patterns never treated as unit roots
	MaxNestedDepth int      // upward search bound for the nested fallback (default: 8)
	CacheSize      int      // lookup cache entries (default: 4096)
	Logger         *slog.Logger
}

// DefaultOptions returns the conventional layout.
func DefaultOptions() Options {
	return Options{
		CodeOwners:     ".github/CODEOWNERS",
		Manifest:       "kibana.json",
		CoreDir:        "src/core",
		CoreUnit:       "core",
		Skip:           []string{"plugin_functional", "test"},
		MaxNestedDepth: 8,
		CacheSize:      4096,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.CodeOwners == "" {
		o.CodeOwners = d.CodeOwners
	}
	if o.Manifest == "" {
		o.Manifest = d.Manifest
	}
	if o.CoreDir == "" {
		o.CoreDir = d.CoreDir
	}
	if o.CoreUnit == "" {
		o.CoreUnit = d.CoreUnit
	}
	if o.Skip == nil {
		o.Skip = d.Skip
	}
	if o.MaxNestedDepth <= 0 {
		o.MaxNestedDepth = d.MaxNestedDepth
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.CoreDir = cleanPath(o.CoreDir)
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"target":       {},
	"build":        {},
}

type lookup struct {
	unit types.OwningUnit
	ok   bool
}

// Registry is a concurrency-safe Resolver.
type Registry struct {
	root   string
	opts   Options
	logger *slog.Logger
	skip   *ignore.GitIgnore

	mu     sync.RWMutex
	units  []types.OwningUnit
	byName map[string]int
	byRoot map[string]int
	probed map[string]string // directory -> unit root found from it ("" when none)

	group singleflight.Group
	cache *lru.Cache[string, lookup]
}

// New creates an empty registry rooted at the repository root.
func New(root string, opts Options) (*Registry, error) {
	opts.applyDefaults()
	cache, err := lru.New[string, lookup](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}
	return &Registry{
		root:   root,
		opts:   opts,
		logger: opts.Logger,
		skip:   ignore.CompileIgnoreLines(opts.Skip...),
		byName: make(map[string]int),
		byRoot: make(map[string]int),
		probed: make(map[string]string),
		cache:  cache,
	}, nil
}

// Build reads the CODEOWNERS file under root and registers every unit found
// below the owned paths.
func Build(ctx context.Context, root string, opts Options) (*Registry, error) {
	r, err := New(root, opts)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(root, filepath.FromSlash(r.opts.CodeOwners)))
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("codeowners file not found, relying on nested unit discovery",
			"path", r.opts.CodeOwners)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open codeowners: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseCodeOwners(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse codeowners: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.Team) == "" {
			r.logger.Warn("empty team name", "path", e.Path)
		}
		if err := r.fill(ctx, e); err != nil {
			return nil, err
		}
	}

	r.logger.Info("ownership registry built", "units", len(r.units), "entries", len(entries))
	return r, nil
}

// fill registers the units found at or below the entry's path.
func (r *Registry) fill(ctx context.Context, e Entry) error {
	p := cleanPath(e.Path)
	if p == "" || strings.Contains(p, "*") {
		return nil
	}

	if p == r.opts.CoreDir || strings.HasPrefix(p, r.opts.CoreDir+"/") {
		r.Add(types.OwningUnit{Name: r.opts.CoreUnit, TeamOwner: e.Team, RootPath: r.opts.CoreDir})
		return nil
	}

	start := filepath.Join(r.root, filepath.FromSlash(p))
	info, err := os.Stat(start)
	if err != nil {
		r.logger.Warn("codeowners path does not exist", "path", p)
		return nil
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(start, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, skip := skipDirs[d.Name()]; skip {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(r.root, abs)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if r.skip.MatchesPath(rel) {
			return filepath.SkipDir
		}
		if r.hasManifest(rel) {
			r.Add(types.OwningUnit{Name: path.Base(rel), TeamOwner: e.Team, RootPath: rel})
			return filepath.SkipDir
		}
		return nil
	})
}

// Add registers a unit. Duplicate names and roots are ignored with a warning.
func (r *Registry) Add(u types.OwningUnit) bool {
	u.RootPath = cleanPath(u.RootPath)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(u)
}

func (r *Registry) addLocked(u types.OwningUnit) bool {
	if i, ok := r.byName[u.Name]; ok {
		if r.units[i].RootPath != u.RootPath {
			r.logger.Warn("duplicate unit found", "unit", u.Name,
				"root", u.RootPath, "existing_root", r.units[i].RootPath)
		}
		return false
	}
	if _, ok := r.byRoot[u.RootPath]; ok {
		return false
	}
	r.units = append(r.units, u)
	r.byName[u.Name] = len(r.units) - 1
	r.byRoot[u.RootPath] = len(r.units) - 1
	r.cache.Purge()
	return true
}

// Resolve returns the unit owning filePath. Registered units are matched by
// longest root; otherwise the nested-unit fallback runs.
func (r *Registry) Resolve(filePath string) (types.OwningUnit, bool) {
	p := cleanPath(filePath)
	if p == "" {
		return types.OwningUnit{}, false
	}
	if hit, ok := r.cache.Get(p); ok {
		return hit.unit, hit.ok
	}

	u, ok := r.match(p)
	if !ok {
		u, ok = r.nested(p)
	}
	r.cache.Add(p, lookup{unit: u, ok: ok})
	return u, ok
}

func (r *Registry) match(p string) (types.OwningUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := -1
	for i, u := range r.units {
		if u.Contains(p) && (best < 0 || len(u.RootPath) > len(r.units[best].RootPath)) {
			best = i
		}
	}
	if best < 0 {
		return types.OwningUnit{}, false
	}
	return r.units[best], true
}

// nested walks up from the file's directory looking for a manifest.
func (r *Registry) nested(p string) (types.OwningUnit, bool) {
	dir := path.Dir(p)
	for depth := 0; depth < r.opts.MaxNestedDepth && dir != "." && dir != "/"; depth++ {
		rootPath := r.probe(dir)
		if rootPath != "" {
			r.mu.RLock()
			i, ok := r.byRoot[rootPath]
			var u types.OwningUnit
			if ok {
				u = r.units[i]
			}
			r.mu.RUnlock()
			return u, ok
		}
		dir = path.Dir(dir)
	}
	return types.OwningUnit{}, false
}

// probe checks one directory for a manifest, registering the unit when
// found. Results are memoized per directory and concurrent probes collapse.
func (r *Registry) probe(dir string) string {
	r.mu.RLock()
	root, seen := r.probed[dir]
	r.mu.RUnlock()
	if seen {
		return root
	}

	v, _, _ := r.group.Do(dir, func() (interface{}, error) {
		found := ""
		if !r.skip.MatchesPath(dir) && r.hasManifest(dir) {
			found = dir
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if found != "" {
			if _, exists := r.byRoot[found]; !exists {
				u := types.OwningUnit{Name: path.Base(found), RootPath: found}
				if r.addLocked(u) {
					r.logger.Info("synthesized nested unit", "unit", u.Name, "root", found)
				} else {
					found = ""
				}
			}
		}
		r.probed[dir] = found
		return found, nil
	})
	return v.(string)
}

func (r *Registry) hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(dir), r.opts.Manifest))
	return err == nil && !info.IsDir()
}

// AllUnits returns a copy of the registered units sorted by name.
func (r *Registry) AllUnits() []types.OwningUnit {
	r.mu.RLock()
	out := make([]types.OwningUnit, len(r.units))
	copy(out, r.units)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Unit returns the unit registered under name.
func (r *Registry) Unit(name string) (types.OwningUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return types.OwningUnit{}, false
	}
	return r.units[i], true
}

func cleanPath(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
