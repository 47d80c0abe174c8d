package tshost

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/apisurface/internal/host"
	"github.com/dshills/apisurface/pkg/types"
)

const maxTextLen = 160

// parsers holds one parser per grammar. It is owned by a single goroutine.
type parsers struct {
	ts  *sitter.Parser
	tsx *sitter.Parser
}

func newParsers() *parsers {
	ts := sitter.NewParser()
	ts.SetLanguage(typescript.GetLanguage())
	x := sitter.NewParser()
	x.SetLanguage(tsx.GetLanguage())
	return &parsers{ts: ts, tsx: x}
}

func (p *parsers) close() {
	p.ts.Close()
	p.tsx.Close()
}

// parseFile parses src and extracts the file's declarations, imports,
// exports and usage facts.
func (p *parsers) parseFile(ctx context.Context, path string, src []byte) (*fileInfo, error) {
	parser := p.ts
	if strings.HasSuffix(path, ".tsx") {
		parser = p.tsx
	}
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: empty tree", path)
	}

	x := &extractor{
		src: src,
		f: &fileInfo{
			path:     path,
			decls:    make(map[string]*declInfo),
			idents:   make(map[string][]int),
			hasError: root.HasError(),
		},
	}
	x.topLevel(root)
	x.walk(root)
	return x.f, nil
}

type extractor struct {
	src []byte
	f   *fileInfo
}

func (x *extractor) text(n *sitter.Node) string {
	return n.Content(x.src)
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// snippet is the first line of a node, truncated.
func (x *extractor) snippet(n *sitter.Node) string {
	s := x.text(n)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen {
		s = s[:maxTextLen] + "..."
	}
	return s
}

func unquote(s string) string {
	return strings.Trim(s, "'\"`")
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func (x *extractor) topLevel(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_statement":
			x.importStatement(n)
		case "export_statement":
			x.exportStatement(n)
		default:
			for _, d := range x.declarations(n) {
				x.declare(d)
			}
		}
	}
}

func (x *extractor) declare(d *declInfo) {
	if d.name == "" || d.kind == host.KindUnsupported {
		return
	}
	if prev, ok := x.f.decls[d.name]; ok {
		// overloads and declaration merging keep the first node; the
		// implementation fills in what its signatures left out
		if prev.returns == nil {
			prev.returns = d.returns
		}
		if prev.inferred == nil {
			prev.inferred = d.inferred
		}
		if prev.kind == types.KindInterface && d.kind == types.KindInterface {
			prev.members = append(prev.members, d.members...)
			prev.extends = append(prev.extends, d.extends...)
		}
		return
	}
	x.f.decls[d.name] = d
	if d.kind == types.KindClass {
		x.f.classes = append(x.f.classes, d)
	}
}

func (x *extractor) importStatement(n *sitter.Node) {
	src := n.ChildByFieldName("source")
	if src == nil {
		return
	}
	source := unquote(x.text(src))
	line := lineOf(n)

	var clause *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "import_clause" {
			clause = c
		}
	}
	if clause == nil {
		// side-effect import still makes the file an importer
		x.f.imports = append(x.f.imports, importBinding{source: source, line: line})
		return
	}

	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier":
			x.f.imports = append(x.f.imports, importBinding{local: x.text(c), imported: "default", source: source, line: line})
		case "namespace_import":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if id := c.NamedChild(j); id.Type() == "identifier" {
					x.f.imports = append(x.f.imports, importBinding{local: x.text(id), imported: "*", source: source, line: line})
				}
			}
		case "named_imports":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				spec := c.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				local := x.text(name)
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					local = x.text(alias)
				}
				x.f.imports = append(x.f.imports, importBinding{local: local, imported: unquote(x.text(name)), source: source, line: line})
			}
		}
	}
}

func (x *extractor) exportStatement(n *sitter.Node) {
	line := lineOf(n)
	text := x.snippet(n)
	add := func(e exportEntry) {
		e.line = line
		if e.text == "" {
			e.text = text
		}
		x.f.exports = append(x.f.exports, e)
	}

	isDefault := hasChild(n, "default")
	var source string
	if s := n.ChildByFieldName("source"); s != nil {
		source = unquote(x.text(s))
	}

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		decls := x.declarations(decl)
		for _, d := range decls {
			x.declare(d)
			switch {
			case d.kind == host.KindUnsupported:
				add(exportEntry{form: exportUnsupported, text: d.text})
			case d.name == "":
				add(exportEntry{form: exportAnonymous})
			case isDefault:
				add(exportEntry{form: exportLocal, name: "default", local: d.name})
			default:
				add(exportEntry{form: exportLocal, name: d.name, local: d.name})
			}
		}
		if len(decls) == 0 {
			add(exportEntry{form: exportUnsupported})
		}
		return
	}

	if value := n.ChildByFieldName("value"); value != nil {
		switch value.Type() {
		case "identifier":
			add(exportEntry{form: exportLocal, name: "default", local: x.text(value)})
		case "object":
			if value.NamedChildCount() == 0 {
				add(exportEntry{form: exportEmpty})
			} else {
				add(exportEntry{form: exportUnsupported})
			}
		case "arrow_function", "function", "function_expression", "class":
			if name := value.ChildByFieldName("name"); name != nil {
				d := &declInfo{name: x.text(name), kind: types.KindFunction, file: x.f.path, line: lineOf(value), text: x.snippet(value)}
				if value.Type() == "class" {
					d.kind = types.KindClass
					d.members = x.classMembers(value.ChildByFieldName("body"))
				}
				x.declare(d)
				add(exportEntry{form: exportLocal, name: "default", local: d.name})
			} else {
				add(exportEntry{form: exportAnonymous})
			}
		default:
			add(exportEntry{form: exportUnsupported})
		}
		return
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "export_clause":
			if c.NamedChildCount() == 0 {
				add(exportEntry{form: exportEmpty})
				return
			}
			for j := 0; j < int(c.NamedChildCount()); j++ {
				spec := c.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				local := unquote(x.text(nameNode))
				exported := local
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					exported = unquote(x.text(alias))
				}
				if source != "" {
					add(exportEntry{form: exportFrom, name: exported, local: local, source: source})
				} else {
					add(exportEntry{form: exportLocal, name: exported, local: local})
				}
			}
			return
		case "namespace_export":
			var name string
			for j := 0; j < int(c.NamedChildCount()); j++ {
				name = unquote(x.text(c.NamedChild(j)))
			}
			add(exportEntry{form: exportNamespace, name: name, source: source})
			return
		}
	}

	if source != "" && hasChild(n, "*") {
		add(exportEntry{form: exportStar, source: source})
		return
	}
	add(exportEntry{form: exportUnsupported})
}

// declarations reduces a declaration statement to its declared names.
func (x *extractor) declarations(n *sitter.Node) []*declInfo {
	mk := func(kind types.DeclarationKind) *declInfo {
		d := &declInfo{kind: kind, file: x.f.path, line: lineOf(n), text: x.snippet(n)}
		if name := n.ChildByFieldName("name"); name != nil {
			d.name = x.text(name)
		}
		return d
	}

	switch n.Type() {
	case "function_declaration", "function_signature", "generator_function_declaration":
		d := mk(types.KindFunction)
		x.callable(d, n)
		return []*declInfo{d}

	case "class_declaration", "abstract_class_declaration":
		d := mk(types.KindClass)
		d.members = x.classMembers(n.ChildByFieldName("body"))
		return []*declInfo{d}

	case "interface_declaration":
		d := mk(types.KindInterface)
		d.members = x.shapeMembers(n.ChildByFieldName("body"))
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() != "extends_type_clause" {
				continue
			}
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if t := x.typeOf(c.NamedChild(j)); t != nil {
					d.extends = append(d.extends, t)
				}
			}
		}
		return []*declInfo{d}

	case "type_alias_declaration":
		d := mk(types.KindTypeAlias)
		d.typ = x.typeOf(n.ChildByFieldName("value"))
		return []*declInfo{d}

	case "enum_declaration":
		return []*declInfo{mk(types.KindEnum)}

	case "lexical_declaration", "variable_declaration":
		var out []*declInfo
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v := n.NamedChild(i)
			if v.Type() != "variable_declarator" {
				continue
			}
			name := v.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				out = append(out, &declInfo{kind: host.KindUnsupported, file: x.f.path, line: lineOf(v), text: x.snippet(n)})
				continue
			}
			d := &declInfo{name: x.text(name), kind: types.KindVariable, file: x.f.path, line: lineOf(v), text: x.snippet(n)}
			d.typ = x.typeOf(v.ChildByFieldName("type"))
			if val := v.ChildByFieldName("value"); val != nil && val.Type() == "arrow_function" {
				x.callable(d, val)
			}
			out = append(out, d)
		}
		return out

	case "ambient_declaration":
		var out []*declInfo
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, x.declarations(n.NamedChild(i))...)
		}
		return out

	case "internal_module", "module", "import_alias":
		d := mk(host.KindUnsupported)
		return []*declInfo{d}
	}
	return nil
}

// callable fills the return type of a function-like node.
func (x *extractor) callable(d *declInfo, n *sitter.Node) {
	d.async = hasChild(n, "async")
	d.returns = x.typeOf(n.ChildByFieldName("return_type"))
	if d.returns != nil {
		return
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	var inner *typeExpr
	if body.Type() == "statement_block" {
		inner = x.inferReturn(body)
	} else {
		inner = x.typeOfValue(body)
	}
	if d.async {
		wrapped := &typeExpr{name: host.AsyncWrapper, text: host.AsyncWrapper}
		if inner != nil {
			wrapped.args = []*typeExpr{inner}
			wrapped.text = host.AsyncWrapper + "<" + inner.text + ">"
		}
		inner = wrapped
	}
	d.inferred = inner
}

// inferReturn finds the type of the first return statement that yields a
// recognizable value. A body without any valued return is void.
func (x *extractor) inferReturn(body *sitter.Node) *typeExpr {
	valued := false
	var found *typeExpr
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if found != nil {
			return
		}
		switch n.Type() {
		case "arrow_function", "function", "function_expression", "function_declaration",
			"generator_function", "generator_function_declaration", "method_definition", "class", "class_declaration":
			return
		case "return_statement":
			if n.NamedChildCount() > 0 {
				valued = true
				found = x.typeOfValue(n.NamedChild(0))
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(body)
	if found == nil && !valued {
		return &typeExpr{text: "void", void: true}
	}
	return found
}

// typeOfValue infers the type of an expression when it is an object literal
// or carries an explicit assertion.
func (x *extractor) typeOfValue(n *sitter.Node) *typeExpr {
	switch n.Type() {
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return x.typeOfValue(n.NamedChild(0))
		}
	case "as_expression", "satisfies_expression":
		if n.NamedChildCount() > 1 {
			return x.typeOf(n.NamedChild(int(n.NamedChildCount()) - 1))
		}
	case "object":
		t := &typeExpr{object: true, text: x.snippet(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			m := &declInfo{kind: types.KindProperty, file: x.f.path, line: lineOf(c), text: x.snippet(c)}
			switch c.Type() {
			case "pair":
				key := c.ChildByFieldName("key")
				if key == nil {
					continue
				}
				m.name = x.memberName(key)
				if v := c.ChildByFieldName("value"); v != nil {
					switch v.Type() {
					case "arrow_function", "function", "function_expression":
						m.kind = types.KindMethod
					}
				}
			case "shorthand_property_identifier":
				m.name = x.text(c)
			case "method_definition":
				m.kind = types.KindMethod
				if name := c.ChildByFieldName("name"); name != nil {
					m.name = x.memberName(name)
				}
			default:
				continue
			}
			t.members = append(t.members, m)
		}
		return t
	}
	return nil
}

func (x *extractor) memberName(n *sitter.Node) string {
	switch n.Type() {
	case "string":
		return unquote(x.text(n))
	case "private_property_identifier":
		return ""
	}
	return x.text(n)
}

func (x *extractor) classMembers(body *sitter.Node) []*declInfo {
	if body == nil {
		return nil
	}
	var out []*declInfo
	for i := 0; i < int(body.NamedChildCount()); i++ {
		n := body.NamedChild(i)
		var kind types.DeclarationKind
		switch n.Type() {
		case "method_definition", "method_signature", "abstract_method_signature":
			kind = types.KindMethod
		case "public_field_definition":
			kind = types.KindProperty
		default:
			continue
		}
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := x.memberName(nameNode)
		if name == "" || name == "constructor" || x.hidden(n) {
			continue
		}
		d := &declInfo{
			name:   name,
			kind:   kind,
			file:   x.f.path,
			line:   lineOf(n),
			text:   x.snippet(n),
			static: hasChild(n, "static"),
		}
		if kind == types.KindMethod {
			x.callable(d, n)
		} else {
			d.typ = x.typeOf(n.ChildByFieldName("type"))
		}
		out = append(out, d)
	}
	return out
}

// hidden reports private and protected members.
func (x *extractor) hidden(n *sitter.Node) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "accessibility_modifier" {
			v := x.text(c)
			return v == "private" || v == "protected"
		}
	}
	return false
}

// shapeMembers lists the members of an interface body or object type.
func (x *extractor) shapeMembers(body *sitter.Node) []*declInfo {
	if body == nil {
		return nil
	}
	var out []*declInfo
	for i := 0; i < int(body.NamedChildCount()); i++ {
		n := body.NamedChild(i)
		var d *declInfo
		switch n.Type() {
		case "property_signature":
			d = &declInfo{kind: types.KindProperty}
			d.typ = x.typeOf(n.ChildByFieldName("type"))
		case "method_signature":
			d = &declInfo{kind: types.KindMethod}
			d.returns = x.typeOf(n.ChildByFieldName("return_type"))
		default:
			continue
		}
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		d.name = x.memberName(nameNode)
		d.file = x.f.path
		d.line = lineOf(n)
		d.text = x.snippet(n)
		out = append(out, d)
	}
	return out
}

// typeOf converts a type node (or a type annotation) into a typeExpr.
func (x *extractor) typeOf(n *sitter.Node) *typeExpr {
	if n == nil {
		return nil
	}
	if n.Type() == "type_annotation" {
		if n.NamedChildCount() == 0 {
			return nil
		}
		n = n.NamedChild(0)
	}
	t := &typeExpr{text: x.text(n)}
	switch n.Type() {
	case "predefined_type", "literal_type":
		switch t.text {
		case "void", "undefined", "never":
			t.void = true
		}
	case "type_identifier", "identifier":
		t.name = t.text
	case "nested_type_identifier":
		t.qualifier, t.name = x.qualified(n)
	case "generic_type":
		if name := n.ChildByFieldName("name"); name != nil {
			if name.Type() == "nested_type_identifier" {
				t.qualifier, t.name = x.qualified(name)
			} else {
				t.name = x.text(name)
			}
		}
		if args := n.ChildByFieldName("type_arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				if a := x.typeOf(args.NamedChild(i)); a != nil {
					t.args = append(t.args, a)
				}
			}
		}
	case "object_type":
		t.object = true
		t.members = x.shapeMembers(n)
	case "parenthesized_type":
		if n.NamedChildCount() > 0 {
			return x.typeOf(n.NamedChild(0))
		}
	case "intersection_type":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if p := x.typeOf(n.NamedChild(i)); p != nil {
				t.parts = append(t.parts, p)
			}
		}
	}
	return t
}

// qualified splits ns.Name into its namespace's last segment and the name.
func (x *extractor) qualified(n *sitter.Node) (string, string) {
	var qual, name string
	if m := n.ChildByFieldName("module"); m != nil {
		qual = x.text(m)
		if i := strings.LastIndexByte(qual, '.'); i >= 0 {
			qual = qual[i+1:]
		}
	}
	if nm := n.ChildByFieldName("name"); nm != nil {
		name = x.text(nm)
	}
	return qual, name
}

// declaration nodes whose name field introduces, rather than uses, a name
var declaringParents = map[string]bool{
	"function_declaration":           true,
	"function_signature":             true,
	"generator_function_declaration": true,
	"class_declaration":              true,
	"abstract_class_declaration":     true,
	"interface_declaration":          true,
	"type_alias_declaration":         true,
	"enum_declaration":               true,
	"variable_declarator":            true,
	"internal_module":                true,
	"module":                         true,
}

func isDeclName(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || !declaringParents[parent.Type()] {
		return false
	}
	return sameNode(parent.ChildByFieldName("name"), n)
}

// walk records identifier uses, property accesses and typed bindings.
func (x *extractor) walk(root *sitter.Node) {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type() {
		case "import_statement", "export_clause", "namespace_export":
			continue

		case "identifier", "type_identifier", "shorthand_property_identifier":
			if !isDeclName(n) {
				name := x.text(n)
				x.f.idents[name] = append(x.f.idents[name], lineOf(n))
			}

		case "member_expression":
			obj, prop := n.ChildByFieldName("object"), n.ChildByFieldName("property")
			if obj != nil && prop != nil {
				x.f.accesses = append(x.f.accesses, access{
					file:   x.f.path,
					object: x.lastSegment(obj),
					prop:   x.text(prop),
					line:   lineOf(prop),
				})
			}

		case "nested_type_identifier":
			qual, name := x.qualified(n)
			x.f.accesses = append(x.f.accesses, access{file: x.f.path, object: qual, prop: name, line: lineOf(n)})

		case "variable_declarator":
			x.declarator(n)

		case "required_parameter", "optional_parameter":
			x.bind(n.ChildByFieldName("pattern"), n.ChildByFieldName("type"))

		case "public_field_definition", "property_signature":
			x.bind(n.ChildByFieldName("name"), n.ChildByFieldName("type"))
		}

		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
}

func (x *extractor) declarator(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	if name.Type() == "identifier" {
		x.bind(name, n.ChildByFieldName("type"))
		return
	}
	value := n.ChildByFieldName("value")
	if name.Type() != "object_pattern" || value == nil {
		return
	}
	// const { search } = deps.data reads data.search
	obj := x.lastSegment(value)
	if obj == "" {
		return
	}
	for i := 0; i < int(name.NamedChildCount()); i++ {
		c := name.NamedChild(i)
		var prop *sitter.Node
		switch c.Type() {
		case "shorthand_property_identifier_pattern":
			prop = c
		case "pair_pattern":
			prop = c.ChildByFieldName("key")
		}
		if prop != nil {
			x.f.accesses = append(x.f.accesses, access{file: x.f.path, object: obj, prop: x.text(prop), line: lineOf(c)})
		}
	}
}

func (x *extractor) bind(name, typ *sitter.Node) {
	if name == nil || typ == nil {
		return
	}
	switch name.Type() {
	case "identifier", "property_identifier":
	default:
		return
	}
	var names []string
	stack := []*sitter.Node{typ}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "type_identifier" {
			names = append(names, x.text(n))
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			stack = append(stack, n.NamedChild(i))
		}
	}
	if len(names) > 0 {
		x.f.bindings = append(x.f.bindings, binding{file: x.f.path, name: x.text(name), types: names})
	}
}

// lastSegment reduces an expression to the name it ends with.
func (x *extractor) lastSegment(n *sitter.Node) string {
	switch n.Type() {
	case "identifier", "property_identifier", "this", "type_identifier", "shorthand_property_identifier":
		return x.text(n)
	case "member_expression":
		if p := n.ChildByFieldName("property"); p != nil {
			return x.text(p)
		}
	case "non_null_expression", "parenthesized_expression", "await_expression":
		if n.NamedChildCount() > 0 {
			return x.lastSegment(n.NamedChild(0))
		}
	}
	return ""
}
