// Package tshost is a source host for TypeScript trees built on tree-sitter.
//
// Load discovers .ts and .tsx files, parses them concurrently and reduces
// every file to plain facts: declarations with their written or inferred
// types, import bindings, export entries, identifier uses, property accesses
// and type-annotated bindings. The trees are closed as soon as a file is
// reduced. A use-def index is then derived once and never mutated, so
// reference queries are safe from any goroutine.
//
// # Reference semantics
//
// A top-level declaration is referenced by every use of a local name bound to
// it: in its own file, through named or default imports (re-export chains
// followed, cycles guarded) and through namespace imports (ns.name). Import
// and export specifiers themselves are not usage sites.
//
// A member of a named interface, class or type alias is referenced by
// property accesses x.member where x is a binding annotated with that type
// (parameters, variables, fields and property signatures), looked up within
// the unit that declares the binding. Members of inline object shapes have
// no named type to follow and report no references.
//
// This is name-based resolution over the module graph, not a type checker:
// shadowing and inferred variable types are not modelled.
package tshost
