package types

import (
	"context"
	"strings"
)

// DeclarationKind is the closed set of declaration shapes an API element can have.
type DeclarationKind string

const (
	KindFunction   DeclarationKind = "function"
	KindClass      DeclarationKind = "class"
	KindEnum       DeclarationKind = "enum"
	KindVariable   DeclarationKind = "variable"
	KindInterface  DeclarationKind = "interface"
	KindTypeAlias  DeclarationKind = "type-alias"
	KindProperty   DeclarationKind = "property"
	KindMethod     DeclarationKind = "method"
	KindSourceFile DeclarationKind = "source-file"
)

// AllKinds lists every valid DeclarationKind.
var AllKinds = []DeclarationKind{
	KindFunction, KindClass, KindEnum, KindVariable, KindInterface,
	KindTypeAlias, KindProperty, KindMethod, KindSourceFile,
}

// Validate checks the kind is one of the closed set.
func (k DeclarationKind) Validate() error {
	switch k {
	case KindFunction, KindClass, KindEnum, KindVariable, KindInterface,
		KindTypeAlias, KindProperty, KindMethod, KindSourceFile:
		return nil
	default:
		return ErrInvalidKind
	}
}

// Stage is the plugin lifecycle method a contract export belongs to.
type Stage string

const (
	StageNone  Stage = ""
	StageSetup Stage = "setup"
	StageStart Stage = "start"
)

// Validate checks the stage is empty, setup or start.
func (s Stage) Validate() error {
	switch s {
	case StageNone, StageSetup, StageStart:
		return nil
	default:
		return ErrInvalidStage
	}
}

// Surface separates browser-side from server-side exports.
type Surface string

const (
	SurfacePublic Surface = "public"
	SurfaceServer Surface = "server"
)

// Validate checks the surface is public or server.
func (s Surface) Validate() error {
	if s != SurfacePublic && s != SurfaceServer {
		return ErrInvalidSurface
	}
	return nil
}

// UsageSite is one syntactic location referencing a declaration.
type UsageSite struct {
	FilePath string
	Line     int
}

// ReferenceFinder locates every usage site of a declaration across the codebase.
type ReferenceFinder interface {
	FindReferences(ctx context.Context) ([]UsageSite, error)
}

type noopFinder struct{}

func (noopFinder) FindReferences(context.Context) ([]UsageSite, error) { return nil, nil }

// NoopFinder is the finder left behind once a handle has been released.
var NoopFinder ReferenceFinder = noopFinder{}

// ApiElement is one named, externally visible capability of a unit.
type ApiElement struct {
	ID                    string          `json:"id"`
	Unit                  string          `json:"plugin"`
	TeamOwner             string          `json:"team"`
	FilePath              string          `json:"file"`
	Name                  string          `json:"name"`
	Kind                  DeclarationKind `json:"type"`
	Surface               Surface         `json:"publicOrServer"`
	IsStatic              bool            `json:"isStatic"`
	Stage                 Stage           `json:"lifecycle,omitempty"`
	CrossBoundaryRefCount int             `json:"refCount"`

	finder ReferenceFinder
}

// AttachFinder binds the declaration's reference finder to the element.
func (a *ApiElement) AttachFinder(f ReferenceFinder) {
	a.finder = f
}

// Finder returns the bound reference finder, or NoopFinder when none is bound.
func (a *ApiElement) Finder() ReferenceFinder {
	if a.finder == nil {
		return NoopFinder
	}
	return a.finder
}

// ReleaseFinder drops the declaration handle and replaces it with NoopFinder.
func (a *ApiElement) ReleaseFinder() {
	a.finder = NoopFinder
}

// Validate performs structural validation of the element.
func (a *ApiElement) Validate() error {
	if a.ID == "" {
		return ErrEmptyID
	}
	if a.Unit == "" {
		return ErrEmptyUnit
	}
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if a.FilePath == "" {
		return ErrEmptyFilePath
	}
	if err := a.Kind.Validate(); err != nil {
		return err
	}
	if err := a.Surface.Validate(); err != nil {
		return err
	}
	if err := a.Stage.Validate(); err != nil {
		return err
	}
	if a.IsStatic && a.Stage != StageNone {
		return ErrStaticWithStage
	}
	if a.CrossBoundaryRefCount < 0 {
		return ErrNegativeRefCount
	}
	return nil
}
