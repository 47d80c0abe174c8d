package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dshills/apisurface/internal/apiid"
	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/pkg/types"
)

// Options configures role detection and the core special case.
type Options struct {
	IndexFiles  []string // path suffixes of index modules (default: DefaultIndexFiles)
	PluginFiles []string // path suffixes of plugin modules (default: DefaultPluginFiles)
	CoreUnit    string   // name of the platform core unit (default: core)
	// CoreContracts maps the core's static contract interfaces to the stage
	// their members are recorded under.
	CoreContracts map[string]types.Stage
	Logger        *slog.Logger
}

// DefaultCoreContracts are the core unit's lifecycle interfaces.
func DefaultCoreContracts() map[string]types.Stage {
	return map[string]types.Stage{
		"CoreSetup": types.StageSetup,
		"CoreStart": types.StageStart,
	}
}

// Stats counts what classification produced and what it dropped.
type Stats struct {
	Modules  int
	Elements int
	Skipped  int
	Failures int
	Warnings []string
}

// Classifier produces API elements for index and plugin modules.
// It is safe for concurrent use.
type Classifier struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// factory entry points, never surface API
var skippedExports = map[string]bool{
	"plugin": true,
	"config": true,
}

// New creates a classifier, filling unset options with defaults.
func New(opts Options) *Classifier {
	if len(opts.IndexFiles) == 0 {
		opts.IndexFiles = DefaultIndexFiles
	}
	if len(opts.PluginFiles) == 0 {
		opts.PluginFiles = DefaultPluginFiles
	}
	if opts.CoreUnit == "" {
		opts.CoreUnit = "core"
	}
	if opts.CoreContracts == nil {
		opts.CoreContracts = DefaultCoreContracts()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{opts: opts, logger: logger}
}

// Role reports the role of a module path under the configured suffixes.
func (c *Classifier) Role(path string) Role {
	return RoleOf(path, c.opts.IndexFiles, c.opts.PluginFiles)
}

// Stats returns a copy of the accumulated statistics.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Warnings = append([]string(nil), c.stats.Warnings...)
	return s
}

// Classify returns the API elements module m exposes on behalf of unit.
// Modules that are neither index nor plugin modules expose nothing. Only
// host unavailability is returned as an error; every other failure is
// recovered, logged and counted.
func (c *Classifier) Classify(m host.Module, unit types.OwningUnit) ([]*types.ApiElement, error) {
	role := c.Role(m.Path())
	if role == RoleNone {
		return nil, nil
	}

	c.mu.Lock()
	c.stats.Modules++
	c.mu.Unlock()

	b := &builder{c: c, module: m.Path(), unit: unit, seen: make(map[string]bool)}
	var err error
	switch role {
	case RoleIndex:
		err = c.classifyIndex(b, m)
	case RolePlugin:
		err = c.classifyPlugin(b, m)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stats.Elements += len(b.out)
	c.mu.Unlock()
	return b.out, nil
}

func (c *Classifier) classifyIndex(b *builder, m host.Module) error {
	decls, err := m.ExportedDeclarations()
	if err != nil {
		if errors.Is(err, host.ErrUnavailable) {
			return err
		}
		c.fail(m.Path(), "", err)
		return nil
	}
	for _, d := range decls {
		if err := c.guard(m.Path(), d.Name(), func() error { return c.staticExport(b, d) }); err != nil {
			return err
		}
	}
	return nil
}

func (c *Classifier) staticExport(b *builder, d host.Declaration) error {
	name := d.Name()
	switch d.Kind() {
	case host.KindAnonymous, host.KindEmptyObject:
		c.skip()
		c.logger.Debug("skipping anonymous export", "module", b.module)
		return nil

	case host.KindNamespaceExport:
		c.warn("namespace re-export recorded as source file, members are not expanded",
			"module", b.module, "reexport", name)
		b.add(name, types.KindSourceFile, true, types.StageNone, d)
		return nil

	case types.KindFunction, types.KindClass, types.KindEnum, types.KindVariable,
		types.KindInterface, types.KindTypeAlias:
		if skippedExports[name] {
			c.skip()
			return nil
		}
		if strings.TrimSpace(name) == "" {
			c.exclude("exported declaration has no name, information may be lost",
				"module", b.module, "text", d.Text())
			return nil
		}
		if stage, ok := c.opts.CoreContracts[name]; ok && b.unit.Name == c.opts.CoreUnit {
			members, err := d.Members()
			if err != nil {
				return err
			}
			b.members(members, stage)
			return nil
		}
		b.add(name, d.Kind(), true, types.StageNone, d)
		return nil

	default:
		c.exclude("unsupported export shape", "module", b.module, "kind", string(d.Kind()), "text", d.Text())
		return nil
	}
}

func (c *Classifier) classifyPlugin(b *builder, m host.Module) error {
	classes, err := m.Classes()
	if err != nil {
		if errors.Is(err, host.ErrUnavailable) {
			return err
		}
		c.fail(m.Path(), "", err)
		return nil
	}

	for _, cls := range classes {
		var lifecycle map[types.Stage]host.Declaration
		err := c.guard(m.Path(), cls.Name(), func() error {
			var err error
			lifecycle, err = lifecycleMethods(cls)
			return err
		})
		if err != nil {
			return err
		}
		if len(lifecycle) == 0 {
			continue
		}
		for _, stage := range []types.Stage{types.StageSetup, types.StageStart} {
			method, ok := lifecycle[stage]
			if !ok {
				continue
			}
			name := cls.Name() + "." + string(stage)
			if err := c.guard(m.Path(), name, func() error { return c.contract(b, method, stage) }); err != nil {
				return err
			}
		}
		return nil
	}

	c.logger.Debug("no plugin class found", "module", m.Path())
	return nil
}

// lifecycleMethods returns the setup and start methods of a class.
func lifecycleMethods(cls host.Declaration) (map[types.Stage]host.Declaration, error) {
	members, err := cls.Members()
	if err != nil {
		return nil, err
	}
	out := make(map[types.Stage]host.Declaration, 2)
	for _, m := range members {
		if m.Kind() != types.KindMethod || m.IsStatic() {
			continue
		}
		switch m.Name() {
		case string(types.StageSetup):
			out[types.StageSetup] = m
		case string(types.StageStart):
			out[types.StageStart] = m
		}
	}
	return out, nil
}

func (c *Classifier) contract(b *builder, method host.Declaration, stage types.Stage) error {
	t, err := method.ResolveType()
	if err != nil {
		return err
	}
	if t == nil {
		c.logger.Debug("lifecycle method has no resolvable return type",
			"module", b.module, "stage", string(stage))
		return nil
	}

	if host.IsAsync(t) {
		args := t.TypeArguments()
		if len(args) == 0 {
			return nil
		}
		t = args[0]
	}
	if t.IsVoid() || t.IsEmptyObject() {
		return nil
	}

	var members []host.Declaration
	if decl := t.Declaration(); decl != nil {
		members, err = decl.Members()
	} else {
		members, err = t.Properties()
	}
	if err != nil {
		return err
	}
	b.members(members, stage)
	return nil
}

// guard runs fn, turning a panic into a recorded failure. Host
// unavailability is passed through; any other error is recorded.
func (c *Classifier) guard(module, decl string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(module, decl, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()
	if ferr := fn(); ferr != nil {
		if errors.Is(ferr, host.ErrUnavailable) {
			return ferr
		}
		c.fail(module, decl, ferr)
	}
	return nil
}

func (c *Classifier) fail(module, decl string, err error) {
	c.logger.Warn("classification failed, declaration skipped",
		"module", module, "declaration", decl, "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Failures++
	c.stats.Warnings = append(c.stats.Warnings,
		fmt.Sprintf("%s: %s: classification failed: %v", module, decl, err))
}

func (c *Classifier) skip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Skipped++
}

// warn logs msg and records it with its attribute values.
func (c *Classifier) warn(msg string, args ...any) {
	c.logger.Warn(msg, args...)
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 1; i < len(args); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", args[i-1], args[i])
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Warnings = append(c.stats.Warnings, sb.String())
}

// exclude records a warning for an item left out of the result.
func (c *Classifier) exclude(msg string, args ...any) {
	c.skip()
	c.warn(msg, args...)
}

// builder accumulates the elements of one module.
type builder struct {
	c      *Classifier
	module string
	unit   types.OwningUnit
	seen   map[string]bool
	out    []*types.ApiElement
}

func (b *builder) add(name string, kind types.DeclarationKind, static bool, stage types.Stage, d host.Declaration) {
	e := &types.ApiElement{
		Unit:      b.unit.Name,
		TeamOwner: b.unit.TeamOwner,
		FilePath:  b.module,
		Name:      name,
		Kind:      kind,
		Surface:   apiid.SurfaceForPath(b.module),
		IsStatic:  static,
		Stage:     stage,
	}
	id := apiid.Assign(e)
	if b.seen[id] {
		// overload signatures and merged declarations share one element
		return
	}
	b.seen[id] = true
	e.AttachFinder(d)
	b.out = append(b.out, e)
}

type contractMember struct {
	name string
	kind types.DeclarationKind
	decl host.Declaration
}

// members records the members of one contract. A contract contributes all
// of its members or none of them.
func (b *builder) members(ms []host.Declaration, stage types.Stage) {
	staged := make([]contractMember, 0, len(ms))
	for _, m := range ms {
		if cm, ok := b.member(m, stage); ok {
			staged = append(staged, cm)
		}
	}
	for _, cm := range staged {
		b.add(cm.name, cm.kind, false, stage, cm.decl)
	}
}

// member vets one contract member, excluding the string tag and blank names.
func (b *builder) member(m host.Declaration, stage types.Stage) (contractMember, bool) {
	name := strings.TrimSpace(m.Name())
	if name == "" {
		b.c.exclude("contract member with empty name excluded, information may be lost",
			"module", b.module, "stage", string(stage))
		return contractMember{}, false
	}
	if isToStringTag(name) {
		b.c.exclude("contract member Symbol.toStringTag excluded, information may be lost",
			"module", b.module, "stage", string(stage))
		return contractMember{}, false
	}
	kind := m.Kind()
	if kind != types.KindMethod {
		kind = types.KindProperty
	}
	return contractMember{name: name, kind: kind, decl: m}, true
}

func isToStringTag(name string) bool {
	switch name {
	case "Symbol.toStringTag", "[Symbol.toStringTag]", "__@toStringTag":
		return true
	}
	return strings.HasPrefix(name, "__@toStringTag")
}
