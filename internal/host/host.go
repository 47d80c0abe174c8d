// Package host defines the source host capability the analyzer consumes: an
// immutable view of every source module in a codebase, its exported
// declarations, their types and a symbol-aware reference finder.
//
// Backends live in sibling packages (tshost for TypeScript trees, memhost for
// tests). The analyzer never inspects syntax directly.
package host

import (
	"context"
	"errors"

	"github.com/dshills/apisurface/pkg/types"
)

// ErrUnavailable marks host failures that must abort the current snapshot.
var ErrUnavailable = errors.New("source host unavailable")

// Host-only declaration kinds. They never appear on an ApiElement.
const (
	// KindNamespaceExport is a module re-exported as a namespace. Name returns
	// the re-exported module's path.
	KindNamespaceExport types.DeclarationKind = "namespace-export"
	// KindAnonymous is an export without a name, e.g. an anonymous default export.
	KindAnonymous types.DeclarationKind = "anonymous"
	// KindEmptyObject is an exported empty object literal or empty export clause.
	KindEmptyObject types.DeclarationKind = "empty-object"
	// KindUnsupported is any other export shape. Text carries the raw source.
	KindUnsupported types.DeclarationKind = "unsupported"
)

// Host is an immutable snapshot of a codebase under one configuration.
type Host interface {
	// Name identifies the host configuration (e.g. "oss", "xpack").
	Name() string
	// Modules returns every source module, ordered by path.
	Modules(ctx context.Context) ([]Module, error)
	Close() error
}

// Module is one source file.
type Module interface {
	// Path is repo-relative with forward slashes.
	Path() string
	// ExportedDeclarations lists top-level exports, re-exports resolved.
	ExportedDeclarations() ([]Declaration, error)
	// Classes lists top-level class declarations, exported or not.
	Classes() ([]Declaration, error)
}

// Declaration is one declaration node.
type Declaration interface {
	types.ReferenceFinder

	Name() string
	Kind() types.DeclarationKind
	FilePath() string
	Line() int
	// Text is the raw (possibly truncated) source of the declaration.
	Text() string
	// IsStatic reports a static class member.
	IsStatic() bool
	// Members lists class, interface or object-shape members.
	Members() ([]Declaration, error)
	// ResolveType returns the return type of functions and methods, the
	// annotated type of properties and variables, and the declared type of
	// interfaces, classes and type aliases. It may return nil.
	ResolveType() (Type, error)
}

// Type is a resolved type.
type Type interface {
	// Symbol is the type's symbol name ("Promise", "DataStart"); empty for
	// anonymous shapes.
	Symbol() string
	Text() string
	TypeArguments() []Type
	// IsVoid reports void, undefined and never.
	IsVoid() bool
	// IsEmptyObject reports the literal empty object type.
	IsEmptyObject() bool
	// Declaration is the declaration node of the type, nil when none can be
	// materialized (inline shapes, library types).
	Declaration() Declaration
	// Properties enumerates members from type information alone.
	Properties() ([]Declaration, error)
}

// Releaser is implemented by declarations that cache reference results.
type Releaser interface {
	Release()
}

// Release drops any cached state held by the finder.
func Release(f types.ReferenceFinder) {
	if r, ok := f.(Releaser); ok {
		r.Release()
	}
}

// AsyncWrapper is the symbol name of the asynchronous-result wrapper.
const AsyncWrapper = "Promise"

// IsAsync reports whether t is the asynchronous-result wrapper. Detection is
// by symbol name, never by structural shape.
func IsAsync(t Type) bool {
	return t != nil && t.Symbol() == AsyncWrapper
}
