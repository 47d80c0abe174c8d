package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyID           = errors.New("id is required")
	ErrEmptyName         = errors.New("name is required")
	ErrEmptyUnit         = errors.New("owning unit is required")
	ErrEmptyFilePath     = errors.New("file path is required")
	ErrInvalidKind       = errors.New("invalid declaration kind")
	ErrInvalidStage      = errors.New("invalid lifecycle stage")
	ErrInvalidSurface    = errors.New("invalid surface")
	ErrStaticWithStage   = errors.New("static exports cannot carry a lifecycle stage")
	ErrNegativeRefCount  = errors.New("reference count cannot be negative")
	ErrSameUnitReference = errors.New("reference unit must differ from source unit")
	ErrInvalidLine       = errors.New("line numbers must be positive")
	ErrMissingCommitHash = errors.New("commit hash is required")
	ErrMissingCommitDate = errors.New("commit date is required")
)
