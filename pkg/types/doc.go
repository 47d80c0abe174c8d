// Package types provides shared domain types for apisurface.
//
// The types describe the outputs of one analysis snapshot:
//
//   - OwningUnit: a plugin with a name, an owning team and a root directory
//   - ApiElement: one externally visible capability of a unit
//   - ReferenceRecord: one usage of an ApiElement from a different unit
//   - Snapshot: the commit every element and record is tagged with
//
// # Identifiers
//
// ApiElement ids have the form
//
//	<unit>.<surface>.<stage>.<name>   contract exports
//	<unit>.<surface>.<name>           static exports
//
// and are stamped by internal/apiid. ReferenceRecords are deduplicated on
// RefKey (api id, referencing file, line).
//
// # Reference handles
//
// An ApiElement carries the ReferenceFinder of the declaration it was
// classified from. The handle is never serialized and is released with
// ReleaseFinder once its references have been resolved:
//
//	sites, err := elem.Finder().FindReferences(ctx)
//	elem.ReleaseFinder()
//
// # Validation
//
// Every type implements Validate, returning one of the sentinel errors in
// errors.go:
//
//	if err := record.Validate(); errors.Is(err, types.ErrSameUnitReference) {
//	    // same-unit usages are never recorded
//	}
package types
