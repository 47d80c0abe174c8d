package tshost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/pkg/types"
)

// Config is one host configuration: which files form the module graph and
// how bare import specifiers resolve.
type Config struct {
	Name        string
	Root        string
	Include     []string          // gitignore patterns; empty means everything
	Exclude     []string          // gitignore patterns
	BaseDirs    []string          // directories bare specifiers resolve against
	Aliases     map[string]string // import prefix -> repo-relative directory
	Manifest    string            // unit manifest file name (default: kibana.json)
	Workers     int               // parse concurrency (default: runtime.NumCPU())
	MaxFileSize int64             // larger files are skipped (default: 2 MiB)
	Logger      *slog.Logger
}

// Stats describes a load.
type Stats struct {
	Files        int
	Parsed       int
	Skipped      int
	SyntaxErrors int
}

// Host is a host.Host over a TypeScript tree.
type Host struct {
	name   string
	root   string
	logger *slog.Logger

	paths          []string
	files          map[string]*fileInfo
	manifestDirs   []string
	baseDirs       []string
	aliases        []alias
	refs           map[target][]types.UsageSite
	importers      map[string][]types.UsageSite
	accessesByProp map[string][]access
	bindingsByType map[string][]binding

	stats  Stats
	closed atomic.Bool
}

var _ host.Host = (*Host)(nil)

// Load discovers, parses and indexes every source file under cfg.Root.
func Load(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("tshost: root is required")
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "kibana.json"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 2 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("host", cfg.Name)

	d, err := discover(cfg.Root, cfg.Include, cfg.Exclude, cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Root, err)
	}

	h := &Host{
		name:         cfg.Name,
		root:         cfg.Root,
		logger:       logger,
		files:        make(map[string]*fileInfo, len(d.files)),
		manifestDirs: d.manifestDirs,
		baseDirs:     cfg.BaseDirs,
		aliases:      sortedAliases(cfg.Aliases),
	}
	h.stats.Files = len(d.files)

	parsed, err := parseAll(ctx, cfg, logger, d.files)
	if err != nil {
		return nil, err
	}
	for _, f := range parsed {
		if f == nil {
			h.stats.Skipped++
			continue
		}
		h.stats.Parsed++
		if f.hasError {
			h.stats.SyntaxErrors++
		}
		h.files[f.path] = f
		h.paths = append(h.paths, f.path)
	}
	sort.Strings(h.paths)

	h.buildIndex()
	logger.Info("source host loaded",
		"files", h.stats.Files,
		"parsed", h.stats.Parsed,
		"skipped", h.stats.Skipped,
		"syntax_errors", h.stats.SyntaxErrors)
	return h, nil
}

// parseAll parses files with cfg.Workers goroutines, each owning its parsers.
// A file that cannot be read or parsed yields a nil entry.
func parseAll(ctx context.Context, cfg Config, logger *slog.Logger, files []string) ([]*fileInfo, error) {
	out := make([]*fileInfo, len(files))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := cfg.Workers
	if workers > len(files) {
		workers = len(files)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			p := newParsers()
			defer p.close()
			for i := range jobs {
				rel := files[i]
				abs := filepath.Join(cfg.Root, filepath.FromSlash(rel))
				info, err := os.Stat(abs)
				if err != nil {
					logger.Warn("cannot stat source file", "file", rel, "error", err)
					continue
				}
				if info.Size() > cfg.MaxFileSize {
					logger.Warn("source file too large, skipped", "file", rel, "size", info.Size())
					continue
				}
				src, err := os.ReadFile(abs)
				if err != nil {
					logger.Warn("cannot read source file", "file", rel, "error", err)
					continue
				}
				f, err := p.parseFile(gctx, rel, src)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("cannot parse source file", "file", rel, "error", err)
					continue
				}
				out[i] = f
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Name returns the configuration name.
func (h *Host) Name() string { return h.name }

// Root returns the tree root.
func (h *Host) Root() string { return h.root }

// Stats returns load statistics.
func (h *Host) Stats() Stats { return h.stats }

// Modules returns every parsed module ordered by path.
func (h *Host) Modules(ctx context.Context) ([]host.Module, error) {
	if h.closed.Load() {
		return nil, fmt.Errorf("host %s closed: %w", h.name, host.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]host.Module, len(h.paths))
	for i, p := range h.paths {
		out[i] = &Module{h: h, f: h.files[p]}
	}
	return out, nil
}

// Close releases the index. Subsequent queries report host.ErrUnavailable.
func (h *Host) Close() error {
	h.closed.Store(true)
	return nil
}

// Module is one parsed file.
type Module struct {
	h *Host
	f *fileInfo
}

// Path returns the repo-relative path.
func (m *Module) Path() string { return m.f.path }

// ExportedDeclarations lists the module's exports in source order with
// re-export chains resolved. Shapes that cannot be pinned to a declaration
// are reported with an unsupported kind and their source text.
func (m *Module) ExportedDeclarations() ([]host.Declaration, error) {
	if m.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	h, f := m.h, m.f
	var out []host.Declaration
	seen := make(map[string]bool)

	emit := func(name string, t target, e exportEntry) {
		if seen[name] {
			return
		}
		seen[name] = true
		if t.isNamespace() {
			out = append(out, h.namespaceDecl(t.module, f.path, e))
			return
		}
		info := h.declAt(t)
		if info == nil {
			out = append(out, h.shapeDecl(host.KindUnsupported, f.path, e))
			return
		}
		d := h.decl(info, t)
		if name != "default" {
			d.exportName = name
		}
		out = append(out, d)
	}

	for _, e := range f.exports {
		switch e.form {
		case exportLocal, exportFrom, exportNamespace:
			t, ok := h.resolveExport(f.path, e.name)
			if !ok {
				out = append(out, h.shapeDecl(host.KindUnsupported, f.path, e))
				continue
			}
			emit(e.name, t, e)
		case exportStar:
			sub, ok := h.resolveModule(f.path, e.source)
			if !ok {
				out = append(out, h.shapeDecl(host.KindUnsupported, f.path, e))
				continue
			}
			for _, name := range h.exportNames(sub) {
				if name == "default" {
					continue
				}
				if t, ok := h.resolveExport(sub, name); ok {
					emit(name, t, e)
				}
			}
		case exportAnonymous:
			out = append(out, h.shapeDecl(host.KindAnonymous, f.path, e))
		case exportEmpty:
			out = append(out, h.shapeDecl(host.KindEmptyObject, f.path, e))
		default:
			out = append(out, h.shapeDecl(host.KindUnsupported, f.path, e))
		}
	}
	return out, nil
}

// Classes lists top-level classes, exported or not.
func (m *Module) Classes() ([]host.Declaration, error) {
	if m.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	out := make([]host.Declaration, 0, len(m.f.classes))
	for _, c := range m.f.classes {
		out = append(out, m.h.decl(c, target{file: m.f.path, name: c.name}))
	}
	return out, nil
}

// Decl is a host.Declaration backed by the index.
type Decl struct {
	h          *Host
	info       *declInfo
	kind       types.DeclarationKind
	exportName string
	origin     target   // top-level declarations
	module     string   // namespace re-exports
	owners     []string // named types a member belongs to

	mu       sync.Mutex
	cached   []types.UsageSite
	resolved bool
}

var _ host.Declaration = (*Decl)(nil)

func (h *Host) decl(info *declInfo, origin target) *Decl {
	d := &Decl{h: h, info: info, kind: info.kind, origin: origin}
	if d.isType() {
		d.owners = []string{info.name}
	}
	return d
}

func (h *Host) member(info *declInfo, owners []string) *Decl {
	return &Decl{h: h, info: info, kind: info.kind, owners: owners}
}

func (h *Host) namespaceDecl(module, file string, e exportEntry) *Decl {
	info := &declInfo{name: module, file: file, line: e.line, text: e.text}
	return &Decl{h: h, info: info, kind: host.KindNamespaceExport, module: module}
}

func (h *Host) shapeDecl(kind types.DeclarationKind, file string, e exportEntry) *Decl {
	info := &declInfo{file: file, line: e.line, text: e.text}
	return &Decl{h: h, info: info, kind: kind}
}

func (d *Decl) isType() bool {
	switch d.info.kind {
	case types.KindInterface, types.KindClass, types.KindTypeAlias:
		return true
	}
	return false
}

// Name is the exported name, or the declared name for default exports and
// members. Namespace re-exports are named by the re-exported module path.
func (d *Decl) Name() string {
	if d.exportName != "" {
		return d.exportName
	}
	return d.info.name
}

func (d *Decl) Kind() types.DeclarationKind { return d.kind }
func (d *Decl) FilePath() string            { return d.info.file }
func (d *Decl) Line() int                   { return d.info.line }
func (d *Decl) Text() string                { return d.info.text }
func (d *Decl) IsStatic() bool              { return d.info.static }

// Members lists members of classes, interfaces (inherited ones included)
// and object-shaped type aliases.
func (d *Decl) Members() ([]host.Declaration, error) {
	if d.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	return d.h.membersOf(d.info, d.owners, make(map[*declInfo]bool)), nil
}

func (h *Host) membersOf(info *declInfo, owners []string, seen map[*declInfo]bool) []host.Declaration {
	if info == nil || seen[info] {
		return nil
	}
	seen[info] = true

	var out []host.Declaration
	names := make(map[string]bool)
	add := func(ms []host.Declaration) {
		for _, m := range ms {
			if !names[m.Name()] {
				names[m.Name()] = true
				out = append(out, m)
			}
		}
	}

	switch info.kind {
	case types.KindClass, types.KindInterface:
		own := make([]host.Declaration, 0, len(info.members))
		for _, m := range info.members {
			own = append(own, h.member(m, owners))
		}
		add(own)
		for _, ext := range info.extends {
			base := h.lookupType(info.file, ext)
			if base == nil {
				continue
			}
			add(h.membersOf(base, appendOwner(owners, base.name), seen))
		}
	case types.KindTypeAlias:
		add(h.typeMembers(info.file, info.typ, owners, seen))
	}
	return out
}

// typeMembers enumerates the members of a type expression.
func (h *Host) typeMembers(file string, t *typeExpr, owners []string, seen map[*declInfo]bool) []host.Declaration {
	if t == nil {
		return nil
	}
	switch {
	case t.object:
		out := make([]host.Declaration, 0, len(t.members))
		for _, m := range t.members {
			out = append(out, h.member(m, owners))
		}
		return out
	case len(t.parts) > 0:
		var out []host.Declaration
		for _, p := range t.parts {
			out = append(out, h.typeMembers(file, p, owners, seen)...)
		}
		return out
	case t.name != "":
		if decl := h.lookupType(file, t); decl != nil {
			return h.membersOf(decl, appendOwner(owners, decl.name), seen)
		}
	}
	return nil
}

func appendOwner(owners []string, name string) []string {
	out := make([]string, 0, len(owners)+1)
	out = append(out, owners...)
	for _, o := range owners {
		if o == name {
			return out
		}
	}
	return append(out, name)
}

// ResolveType returns the declared or inferred return type of functions and
// methods, the annotation of properties and variables, and the declared type
// of classes, interfaces and type aliases.
func (d *Decl) ResolveType() (host.Type, error) {
	if d.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	info := d.info
	var t *typeExpr
	switch {
	case d.isType():
		return &Type{h: d.h, file: info.file, te: &typeExpr{name: info.name, text: info.name}, decl: d}, nil
	case info.returns != nil:
		t = info.returns
	case info.inferred != nil:
		t = info.inferred
	default:
		t = info.typ
	}
	if t == nil {
		return nil, nil
	}
	return &Type{h: d.h, file: info.file, te: t}, nil
}

// FindReferences returns usage sites of the declaration. Results are cached
// until Release.
func (d *Decl) FindReferences(ctx context.Context) ([]types.UsageSite, error) {
	if d.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.resolved {
		switch {
		case d.module != "":
			d.cached = d.h.importers[d.module]
		case d.origin.file != "":
			d.cached = d.h.refs[d.origin]
		default:
			d.cached = d.h.memberRefs(d.owners, d.info.name)
		}
		d.resolved = true
	}
	out := make([]types.UsageSite, len(d.cached))
	copy(out, d.cached)
	return out, nil
}

// Release drops cached reference results.
func (d *Decl) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
	d.resolved = false
}

// Type is a host.Type resolved in the scope of the file that wrote it.
type Type struct {
	h    *Host
	file string
	te   *typeExpr
	decl *Decl
}

var _ host.Type = (*Type)(nil)

func (t *Type) Symbol() string { return t.te.name }
func (t *Type) Text() string   { return t.te.text }
func (t *Type) IsVoid() bool   { return t.te.void }

// IsEmptyObject reports a literal {} shape.
func (t *Type) IsEmptyObject() bool {
	return t.te.object && len(t.te.members) == 0
}

// TypeArguments returns the type's arguments, e.g. T of Promise<T>.
func (t *Type) TypeArguments() []host.Type {
	out := make([]host.Type, len(t.te.args))
	for i, a := range t.te.args {
		out[i] = &Type{h: t.h, file: t.file, te: a}
	}
	return out
}

// Declaration returns the declaration of a named type, or nil for inline
// shapes and types declared outside the tree.
func (t *Type) Declaration() host.Declaration {
	if t.decl != nil {
		return t.decl
	}
	info := t.h.lookupType(t.file, t.te)
	if info == nil {
		return nil
	}
	return t.h.decl(info, target{file: info.file, name: info.name})
}

// Properties enumerates members from the type expression alone.
func (t *Type) Properties() ([]host.Declaration, error) {
	if t.h.closed.Load() {
		return nil, host.ErrUnavailable
	}
	return t.h.typeMembers(t.file, t.te, nil, make(map[*declInfo]bool)), nil
}
