package tshost

import "github.com/dshills/apisurface/pkg/types"

// fileInfo is everything extracted from one source file. Trees are closed
// once a fileInfo is built; nothing here points into tree-sitter memory.
type fileInfo struct {
	path     string
	decls    map[string]*declInfo // top-level declarations by local name
	classes  []*declInfo
	imports  []importBinding
	exports  []exportEntry // source order
	idents   map[string][]int
	accesses []access
	bindings []binding
	hasError bool
}

// importBinding is one local name introduced by an import statement.
type importBinding struct {
	local    string
	imported string // exported name, "default", or "*" for namespace imports
	source   string
	line     int
}

type exportForm int

const (
	exportLocal       exportForm = iota // export <decl>, export { a as b }, export default ident
	exportFrom                          // export { a as b } from 's'
	exportStar                          // export * from 's'
	exportNamespace                     // export * as ns from 's'
	exportAnonymous                     // export default () => {}
	exportEmpty                         // export {}, export default {}
	exportUnsupported                   // export = x, destructured exports, ...
)

// exportEntry is one exported name of a module.
type exportEntry struct {
	form   exportForm
	name   string // exported name
	local  string // local name, or the imported name for exportFrom
	source string
	line   int
	text   string
}

// declInfo is a declaration node reduced to what the host exposes.
type declInfo struct {
	name     string
	kind     types.DeclarationKind
	file     string
	line     int
	text     string
	static   bool
	async    bool
	returns  *typeExpr // declared return type
	inferred *typeExpr // return type inferred from the body
	typ      *typeExpr // annotated type, or the value of a type alias
	members  []*declInfo
	extends  []*typeExpr
}

// typeExpr is a type as written in source.
type typeExpr struct {
	name      string // symbol name, last segment of qualified names
	qualifier string // namespace prefix of ns.Name
	text      string
	args      []*typeExpr
	void      bool
	object    bool // inline object shape
	members   []*declInfo
	parts     []*typeExpr // intersection members
}

// access is a property access obj.prop, where obj is reduced to its last
// segment (a.b.c.prop has obj c).
type access struct {
	file   string
	object string
	prop   string
	line   int
}

// binding is a name annotated with a type: a parameter, variable, field or
// property signature.
type binding struct {
	file  string
	name  string
	types []string
}

// target identifies what an exported name resolves to: a top-level
// declaration, or a whole module re-exported as a namespace.
type target struct {
	file   string
	name   string
	module string
}

func (t target) isNamespace() bool { return t.module != "" }
