package eav

import (
	"fmt"
	"sort"
	"strconv"
)

// FieldType enumerates the declared types a field can carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeDate    FieldType = "date"
	TypeJSON    FieldType = "json"
)

// FieldTypes lists every valid field type, in declaration order.
var FieldTypes = []FieldType{TypeString, TypeInteger, TypeFloat, TypeBool, TypeDate, TypeJSON}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	for _, known := range FieldTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Field is the fully resolved shape of one field at a version bound.
// Each attribute is independently reconstructed from the field's version
// history, so Version is the highest contributing row version.
type Field struct {
	UUID       string
	ID         string
	Version    int64
	Entity     string
	Name       string
	Order      int64
	Type       FieldType
	Required   bool
	Collection bool
}

// Entity is an immutable handle to one schema version: identity plus the
// field list resolved at that version. Handles never mutate; request a new
// one from the catalog for a different version.
type Entity struct {
	uuid    string
	id      string
	version int64
	fields  []Field
}

// NewEntity builds a handle. The field slice is copied and sorted by
// Order (ties broken by id) so output column order is stable.
func NewEntity(uuid, id string, version int64, fields []Field) *Entity {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Entity{uuid: uuid, id: id, version: version, fields: sorted}
}

// UUID returns the surrogate identity of the schema row.
func (e *Entity) UUID() string { return e.uuid }

// ID returns the stable caller-supplied entity id.
func (e *Entity) ID() string { return e.id }

// Version returns the schema version this handle is pinned to.
func (e *Entity) Version() int64 { return e.version }

// Fields returns the resolved field list in output column order.
// The returned slice is a copy; mutating it does not affect the handle.
func (e *Entity) Fields() []Field {
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// FieldByID looks up a field by its stable id.
func (e *Entity) FieldByID(id string) (Field, bool) {
	for _, f := range e.fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName looks up a field by its resolved name.
func (e *Entity) FieldByName(name string) (Field, bool) {
	for _, f := range e.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// String implements fmt.Stringer for log output.
func (e *Entity) String() string {
	return e.id + "@v" + strconv.FormatInt(e.version, 10)
}

// EncodeValue renders a value into its storage form for a field type.
// Null encodes as SQL NULL (nil pointer). The encoding is canonical: equal
// values always encode to the same text.
func EncodeValue(v Value, t FieldType) (*string, error) {
	if IsNull(v) {
		return nil, nil
	}

	var out string
	switch t {
	case TypeString:
		s, ok := v.(String)
		if !ok {
			return nil, fmt.Errorf("field type %s: cannot encode %T", t, v)
		}
		out = string(s)
	case TypeInteger:
		i, ok := v.(Int)
		if !ok {
			return nil, fmt.Errorf("field type %s: cannot encode %T", t, v)
		}
		out = strconv.FormatInt(int64(i), 10)
	case TypeFloat:
		switch n := v.(type) {
		case Float:
			out = strconv.FormatFloat(float64(n), 'g', -1, 64)
		case Int:
			out = strconv.FormatInt(int64(n), 10)
		default:
			return nil, fmt.Errorf("field type %s: cannot encode %T", t, v)
		}
	case TypeBool:
		b, ok := v.(Bool)
		if !ok {
			return nil, fmt.Errorf("field type %s: cannot encode %T", t, v)
		}
		if b {
			out = "1"
		} else {
			out = "0"
		}
	case TypeDate:
		d, ok := v.(Date)
		if !ok {
			return nil, fmt.Errorf("field type %s: cannot encode %T", t, v)
		}
		out = d.Format()
	case TypeJSON:
		encoded, err := MarshalCanonical(v)
		if err != nil {
			return nil, fmt.Errorf("field type %s: %w", t, err)
		}
		out = string(encoded)
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
	return &out, nil
}

// DecodeValue parses a storage value back into a Value for a field type.
// A SQL NULL decodes to the field's placeholder: empty string for string
// fields, Null for everything else, so result rows always carry every key.
func DecodeValue(raw *string, t FieldType) (Value, error) {
	if raw == nil {
		if t == TypeString {
			return String(""), nil
		}
		return Null{}, nil
	}

	switch t {
	case TypeString:
		return String(*raw), nil
	case TypeInteger:
		i, err := strconv.ParseInt(*raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode integer %q: %w", *raw, err)
		}
		return Int(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(*raw, 64)
		if err != nil {
			return nil, fmt.Errorf("decode float %q: %w", *raw, err)
		}
		return Float(f), nil
	case TypeBool:
		switch *raw {
		case "1", "true":
			return Bool(true), nil
		case "0", "false":
			return Bool(false), nil
		default:
			return nil, fmt.Errorf("decode bool %q: not a boolean", *raw)
		}
	case TypeDate:
		return ParseDate(*raw)
	case TypeJSON:
		v, err := UnmarshalJSONValue([]byte(*raw))
		if err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

// CoerceValue converts loosely typed input (CLI flags, YAML seeds, JSON
// payloads) into the variant a field type expects. Strings are parsed for
// the numeric, boolean and date types; everything else must already be the
// right variant.
func CoerceValue(v Value, t FieldType) (Value, error) {
	if IsNull(v) {
		return Null{}, nil
	}

	switch t {
	case TypeString:
		if s, ok := v.(String); ok {
			return s, nil
		}
	case TypeInteger:
		switch n := v.(type) {
		case Int:
			return n, nil
		case String:
			i, err := strconv.ParseInt(string(n), 10, 64)
			if err == nil {
				return Int(i), nil
			}
		}
	case TypeFloat:
		switch n := v.(type) {
		case Float:
			return n, nil
		case Int:
			return Float(n), nil
		case String:
			f, err := strconv.ParseFloat(string(n), 64)
			if err == nil {
				return Float(f), nil
			}
		}
	case TypeBool:
		switch b := v.(type) {
		case Bool:
			return b, nil
		case String:
			switch string(b) {
			case "true", "1":
				return Bool(true), nil
			case "false", "0":
				return Bool(false), nil
			}
		}
	case TypeDate:
		switch d := v.(type) {
		case Date:
			return d, nil
		case String:
			parsed, err := ParseDate(string(d))
			if err == nil {
				return parsed, nil
			}
		}
	case TypeJSON:
		switch v.(type) {
		case Array, Object:
			return v, nil
		}
	}
	return nil, fmt.Errorf("value %T is not valid for field type %s", v, t)
}
