// Package memhost is an in-memory source host. Modules, declarations, types
// and usage sites are assembled programmatically, which makes it the host of
// choice for exercising the classifier, resolver and coordinator.
package memhost

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/pkg/types"
)

// Host is an in-memory host.Host.
type Host struct {
	name string

	mu         sync.Mutex
	modules    map[string]*Module
	modulesErr error
	closed     bool
}

// New creates an empty host with the given configuration name.
func New(name string) *Host {
	return &Host{name: name, modules: make(map[string]*Module)}
}

// Name returns the configuration name.
func (h *Host) Name() string { return h.name }

// Module returns the module at path, creating it when missing.
func (h *Host) Module(path string) *Module {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.modules[path]
	if !ok {
		m = &Module{path: path}
		h.modules[path] = m
	}
	return m
}

// FailModules makes Modules return err.
func (h *Host) FailModules(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modulesErr = err
}

// Modules returns all modules ordered by path.
func (h *Host) Modules(ctx context.Context) ([]host.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.modulesErr != nil {
		return nil, h.modulesErr
	}
	paths := make([]string, 0, len(h.modules))
	for p := range h.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]host.Module, 0, len(paths))
	for _, p := range paths {
		out = append(out, h.modules[p])
	}
	return out, nil
}

// Close marks the host closed.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Module is an in-memory host.Module.
type Module struct {
	path      string
	exports   []*Decl
	classes   []*Decl
	exportErr error
}

// Path returns the module path.
func (m *Module) Path() string { return m.path }

// Export adds an exported declaration to the module.
func (m *Module) Export(d *Decl) *Decl {
	d.bind(m.path)
	m.exports = append(m.exports, d)
	return d
}

// Class adds a top-level class to the module without exporting it.
func (m *Module) Class(d *Decl) *Decl {
	d.bind(m.path)
	m.classes = append(m.classes, d)
	return d
}

// FailExports makes ExportedDeclarations return err.
func (m *Module) FailExports(err error) { m.exportErr = err }

// ExportedDeclarations returns the exported declarations in insertion order.
func (m *Module) ExportedDeclarations() ([]host.Declaration, error) {
	if m.exportErr != nil {
		return nil, m.exportErr
	}
	return asDecls(m.exports), nil
}

// Classes returns top-level classes, exported ones included.
func (m *Module) Classes() ([]host.Declaration, error) {
	out := asDecls(m.classes)
	for _, d := range m.exports {
		if d.kind == types.KindClass {
			out = append(out, d)
		}
	}
	return out, nil
}

func asDecls(ds []*Decl) []host.Declaration {
	out := make([]host.Declaration, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

// Decl is an in-memory host.Declaration.
type Decl struct {
	name   string
	kind   types.DeclarationKind
	file   string
	line   int
	text   string
	static bool

	members    []*Decl
	membersErr error
	panicValue any
	kindPanic  any
	typ        *Type

	mu       sync.Mutex
	sites    []types.UsageSite
	refErr   error
	released bool
	calls    atomic.Int32
}

func newDecl(name string, kind types.DeclarationKind) *Decl {
	return &Decl{name: name, kind: kind, line: 1, text: name}
}

func (d *Decl) bind(file string) {
	if d.file == "" {
		d.file = file
	}
	for _, m := range d.members {
		m.bind(file)
	}
}

// Func declares a function.
func Func(name string) *Decl { return newDecl(name, types.KindFunction) }

// Var declares a variable.
func Var(name string) *Decl { return newDecl(name, types.KindVariable) }

// Enum declares an enum.
func Enum(name string) *Decl { return newDecl(name, types.KindEnum) }

// Class declares a class with the given members.
func Class(name string, members ...*Decl) *Decl {
	d := newDecl(name, types.KindClass)
	d.members = members
	d.typ = &Type{symbol: name, decl: d}
	return d
}

// Interface declares an interface with the given members.
func Interface(name string, members ...*Decl) *Decl {
	d := newDecl(name, types.KindInterface)
	d.members = members
	d.typ = &Type{symbol: name, decl: d}
	return d
}

// TypeAlias declares a type alias with the given members.
func TypeAlias(name string, members ...*Decl) *Decl {
	d := newDecl(name, types.KindTypeAlias)
	d.members = members
	d.typ = &Type{symbol: name, decl: d}
	return d
}

// Prop declares a property member.
func Prop(name string) *Decl { return newDecl(name, types.KindProperty) }

// Method declares a method returning t.
func Method(name string, t *Type) *Decl {
	d := newDecl(name, types.KindMethod)
	d.typ = t
	return d
}

// Namespace declares a namespace re-export of modulePath.
func Namespace(modulePath string) *Decl { return newDecl(modulePath, host.KindNamespaceExport) }

// Anonymous declares an anonymous export.
func Anonymous() *Decl { return newDecl("", host.KindAnonymous) }

// EmptyObject declares an exported empty object.
func EmptyObject() *Decl { return newDecl("", host.KindEmptyObject) }

// Unsupported declares an export shape the analyzer does not understand.
func Unsupported(text string) *Decl {
	d := newDecl("", host.KindUnsupported)
	d.text = text
	return d
}

// At sets the declaration line.
func (d *Decl) At(line int) *Decl {
	d.line = line
	return d
}

// Static marks a static class member.
func (d *Decl) Static() *Decl {
	d.static = true
	return d
}

// Typed sets the declaration's resolved type.
func (d *Decl) Typed(t *Type) *Decl {
	d.typ = t
	return d
}

// UsedAt records usage sites of the declaration in file.
func (d *Decl) UsedAt(file string, lines ...int) *Decl {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range lines {
		d.sites = append(d.sites, types.UsageSite{FilePath: file, Line: l})
	}
	return d
}

// FailReferences makes FindReferences return err.
func (d *Decl) FailReferences(err error) *Decl {
	d.refErr = err
	return d
}

// FailMembers makes Members return err.
func (d *Decl) FailMembers(err error) *Decl {
	d.membersErr = err
	return d
}

// PanicOnMembers makes Members panic with v.
func (d *Decl) PanicOnMembers(v any) *Decl {
	d.panicValue = v
	return d
}

// PanicOnKind makes Kind panic with v.
func (d *Decl) PanicOnKind(v any) *Decl {
	d.kindPanic = v
	return d
}

// Released reports whether Release was called.
func (d *Decl) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Calls reports how many times FindReferences ran.
func (d *Decl) Calls() int { return int(d.calls.Load()) }

func (d *Decl) Name() string     { return d.name }
func (d *Decl) FilePath() string { return d.file }
func (d *Decl) Line() int        { return d.line }
func (d *Decl) Text() string     { return d.text }
func (d *Decl) IsStatic() bool   { return d.static }

func (d *Decl) Kind() types.DeclarationKind {
	if d.kindPanic != nil {
		panic(d.kindPanic)
	}
	return d.kind
}

// Members returns the declared members.
func (d *Decl) Members() ([]host.Declaration, error) {
	if d.panicValue != nil {
		panic(d.panicValue)
	}
	if d.membersErr != nil {
		return nil, d.membersErr
	}
	return asDecls(d.members), nil
}

// ResolveType returns the configured type, which may be nil.
func (d *Decl) ResolveType() (host.Type, error) {
	if d.typ == nil {
		return nil, nil
	}
	return d.typ, nil
}

// FindReferences returns the recorded usage sites.
func (d *Decl) FindReferences(ctx context.Context) ([]types.UsageSite, error) {
	d.calls.Add(1)
	if d.refErr != nil {
		return nil, d.refErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.UsageSite, len(d.sites))
	copy(out, d.sites)
	return out, nil
}

// Release marks the handle released.
func (d *Decl) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

// Type is an in-memory host.Type.
type Type struct {
	symbol string
	text   string
	args   []*Type
	void   bool
	empty  bool
	decl   *Decl
	props  []*Decl
}

// Promise wraps inner in the asynchronous-result wrapper. A nil inner gives
// an empty wrapper.
func Promise(inner *Type) *Type {
	t := &Type{symbol: host.AsyncWrapper, text: "Promise"}
	if inner != nil {
		t.args = []*Type{inner}
	}
	return t
}

// Void is the void type.
func Void() *Type { return &Type{text: "void", void: true} }

// EmptyObjectType is the literal {} type.
func EmptyObjectType() *Type { return &Type{text: "{}", empty: true} }

// Object is an anonymous object shape with no declaration node.
func Object(props ...*Decl) *Type { return &Type{text: "{...}", props: props} }

// Named is the type declared by d.
func Named(d *Decl) *Type { return &Type{symbol: d.name, text: d.name, decl: d} }

func (t *Type) Symbol() string      { return t.symbol }
func (t *Type) Text() string        { return t.text }
func (t *Type) IsVoid() bool        { return t.void }
func (t *Type) IsEmptyObject() bool { return t.empty }

// TypeArguments returns the type arguments.
func (t *Type) TypeArguments() []host.Type {
	out := make([]host.Type, len(t.args))
	for i, a := range t.args {
		out[i] = a
	}
	return out
}

// Declaration returns the declaring node, nil for anonymous shapes.
func (t *Type) Declaration() host.Declaration {
	if t.decl == nil {
		return nil
	}
	return t.decl
}

// Properties returns the shape's properties, falling back to the declaring
// node's members.
func (t *Type) Properties() ([]host.Declaration, error) {
	if t.props != nil {
		return asDecls(t.props), nil
	}
	if t.decl != nil {
		return t.decl.Members()
	}
	return nil, nil
}
