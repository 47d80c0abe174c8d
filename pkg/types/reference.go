package types

import "fmt"

// ReferenceSource describes the API element a reference points at.
type ReferenceSource struct {
	APIID     string  `json:"id"`
	Unit      string  `json:"plugin"`
	TeamOwner string  `json:"team"`
	FilePath  string  `json:"file"`
	Name      string  `json:"name"`
	Surface   Surface `json:"publicOrServer"`
	IsStatic  bool    `json:"isStatic"`
	Stage     Stage   `json:"lifecycle,omitempty"`
}

// ReferenceSite describes where the usage happens.
type ReferenceSite struct {
	Unit      string `json:"plugin"`
	TeamOwner string `json:"team"`
	FilePath  string `json:"file"`
	Line      int    `json:"line"`
}

// ReferenceRecord is one observed cross-boundary usage of an API element.
type ReferenceRecord struct {
	Source    ReferenceSource `json:"source"`
	Reference ReferenceSite   `json:"reference"`
}

// RefKey is the deduplication identity of a ReferenceRecord.
type RefKey struct {
	APIID    string
	FilePath string
	Line     int
}

// String renders the key as apiId.file:line.
func (k RefKey) String() string {
	return fmt.Sprintf("%s.%s:%d", k.APIID, k.FilePath, k.Line)
}

// Less orders keys by api id, then file, then line.
func (k RefKey) Less(o RefKey) bool {
	if k.APIID != o.APIID {
		return k.APIID < o.APIID
	}
	if k.FilePath != o.FilePath {
		return k.FilePath < o.FilePath
	}
	return k.Line < o.Line
}

// Key returns the record's deduplication key.
func (r ReferenceRecord) Key() RefKey {
	return RefKey{
		APIID:    r.Source.APIID,
		FilePath: r.Reference.FilePath,
		Line:     r.Reference.Line,
	}
}

// Validate checks the record honours the cross-boundary invariant.
func (r ReferenceRecord) Validate() error {
	if r.Source.APIID == "" {
		return ErrEmptyID
	}
	if r.Source.Unit == "" || r.Reference.Unit == "" {
		return ErrEmptyUnit
	}
	if r.Source.Unit == r.Reference.Unit {
		return ErrSameUnitReference
	}
	if r.Reference.FilePath == "" {
		return ErrEmptyFilePath
	}
	if r.Reference.Line <= 0 {
		return ErrInvalidLine
	}
	return nil
}
