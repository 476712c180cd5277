// Package query defines the abstract filter AST the record store accepts.
//
// The shape is deliberately flat: a filter holds one AND group and/or one
// OR group of conditions, with no deeper nesting. That matches what the
// engine can faithfully compile; deeper trees would be silently mis-handled
// by the value-resolution model, so the types make them unrepresentable.
package query

import "github.com/boyhagemann/stratum/internal/eav"

// IDField is the pseudo-field addressing record identity rather than a
// declared field. It bypasses value-fact resolution entirely.
const IDField = "_id"

// Cond is a sealed interface over filter conditions.
//
// Condition types:
//   - Compare: resolved field value against a literal with a comparator
//   - Contains: containment inside a json/collection field, optionally
//     scoped to a sub-path
//   - IDIn: record identity membership
type Cond interface {
	cond() // Marker method - seals interface to this package
}

// Op is a comparison operator for Compare conditions.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "IN"
)

// Valid reports whether the operator is known.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn:
		return true
	}
	return false
}

// Compare tests a resolved scalar field value against a literal.
//
//	Compare{Field: "field2", Op: OpEq, Value: eav.String("bar")}
//
// Field may be IDField, in which case the comparison runs directly against
// record_header.id. For OpIn the value must be an eav.Array.
type Compare struct {
	Field string
	Op    Op
	Value eav.Value
}

func (Compare) cond() {}

// Contains tests whether Value is contained in the resolved value of a
// json/collection field, optionally scoped to a sub-path:
//
//	Contains{Field: "profile", Path: "city", Value: eav.String("Utrecht")}
//
// matches records whose profile.city equals (or whose profile.city array
// contains) "Utrecht".
type Contains struct {
	Field string
	Path  string // optional json sub-path, "" for the whole document
	Value eav.Value
}

func (Contains) cond() {}

// IDIn tests record identity membership. Equivalent to
// Compare{Field: IDField, Op: OpIn, ...} but avoids value boxing for the
// common lookup-by-id path.
type IDIn struct {
	IDs []string
}

func (IDIn) cond() {}

// Filter is a flat predicate set: the And group is conjoined, the Or group
// is disjoined, and when both are present the two groups combine with AND.
// A zero Filter matches every live record.
type Filter struct {
	And []Cond
	Or  []Cond
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return len(f.And) == 0 && len(f.Or) == 0
}

// Direction orders a result set ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Options tune a read: the version bound for every point-in-time lookup,
// the caller context for condition overlays, and result shaping.
type Options struct {
	// Version bounds every resolution to "<= this version".
	// Zero means latest.
	Version int64

	// Conditions is the caller context matched against value overlays,
	// including the deletion-flag lookup.
	Conditions eav.Conditions

	// Order names a field id (or IDField) to sort by; empty means IDField.
	Order     string
	Direction Direction

	// Limit caps the result set; zero means unlimited.
	Limit int
}

// ForEntity builds the condition for one (fieldRef, operator, value)
// triple against an entity shape. This is where the translation rules
// live: "_id" is identity, a "." separates a field id from a json
// sub-path, and json/collection fields turn the operator into containment.
func ForEntity(entity *eav.Entity, fieldRef string, op Op, value eav.Value) (Cond, error) {
	if fieldRef == IDField {
		if op == OpIn {
			arr, ok := value.(eav.Array)
			if !ok {
				return nil, &BuildError{Field: fieldRef, Reason: "IN requires an array value"}
			}
			ids := make([]string, len(arr))
			for i, elem := range arr {
				s, isString := elem.(eav.String)
				if !isString {
					return nil, &BuildError{Field: fieldRef, Reason: "IN requires string ids"}
				}
				ids[i] = string(s)
			}
			return IDIn{IDs: ids}, nil
		}
		return Compare{Field: IDField, Op: op, Value: value}, nil
	}

	fieldID, path := splitFieldRef(fieldRef)
	field, ok := entity.FieldByID(fieldID)
	if !ok {
		return nil, &BuildError{Field: fieldRef, Reason: "unknown field"}
	}

	if field.Type == eav.TypeJSON || field.Collection {
		return Contains{Field: fieldID, Path: path, Value: value}, nil
	}
	if path != "" {
		return nil, &BuildError{Field: fieldRef, Reason: "sub-paths only apply to json fields"}
	}
	return Compare{Field: fieldID, Op: op, Value: value}, nil
}

// splitFieldRef separates "profile.city" into field id and sub-path.
func splitFieldRef(ref string) (string, string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:]
		}
	}
	return ref, ""
}

// BuildError reports an unusable filter triple.
type BuildError struct {
	Field  string
	Reason string
}

func (e *BuildError) Error() string {
	return "query: field " + e.Field + ": " + e.Reason
}
