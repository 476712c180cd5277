// Package validate builds validators from entity shapes.
//
// One validator is built per entity handle: it needs the field list to know
// which keys exist, which are required, and what type each value must
// coerce to. The record store receives a Factory rather than a validator
// because the shape can change across entity versions.
package validate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/boyhagemann/stratum/internal/eav"
)

// Invalid is a validation rejection carrying per-field messages.
// It is surfaced verbatim to the caller and is not retryable without new
// input.
type Invalid struct {
	Messages map[string][]string
}

// Error implements the error interface.
func (e *Invalid) Error() string {
	keys := make([]string, 0, len(e.Messages))
	for k := range e.Messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Messages[k], "; ")))
	}
	return "invalid data: " + strings.Join(parts, ", ")
}

// Validator checks and sanitizes a mutation payload against one entity
// shape. The returned map contains only declared fields, with every value
// coerced to the variant its field type expects; unknown keys are dropped.
type Validator interface {
	ValidateCreate(data map[string]eav.Value) (map[string]eav.Value, error)
	ValidateUpdate(id string, data map[string]eav.Value) (map[string]eav.Value, error)
}

// Factory builds a Validator for an entity handle.
type Factory interface {
	For(entity *eav.Entity) Validator
}

// vld is the shared go-playground validator instance. It is stateless and
// safe for concurrent use.
var vld = playground.New(playground.WithRequiredStructEnabled())

// RecordFactory is the default Factory: field-shape driven validation of
// record payloads.
type RecordFactory struct{}

// For returns a validator bound to the entity's field list.
func (RecordFactory) For(entity *eav.Entity) Validator {
	return &recordValidator{entity: entity}
}

type recordValidator struct {
	entity *eav.Entity
}

func (v *recordValidator) ValidateCreate(data map[string]eav.Value) (map[string]eav.Value, error) {
	return v.validate(data, true)
}

func (v *recordValidator) ValidateUpdate(id string, data map[string]eav.Value) (map[string]eav.Value, error) {
	return v.validate(data, false)
}

// validate walks the entity's declared fields. Required-ness is only
// enforced in create mode; updates are partial.
func (v *recordValidator) validate(data map[string]eav.Value, create bool) (map[string]eav.Value, error) {
	values := make(map[string]eav.Value, len(data))
	messages := make(map[string][]string)

	for _, field := range v.entity.Fields() {
		raw, present := data[field.Name]
		if !present || eav.IsNull(raw) {
			if create && field.Required {
				messages[field.Name] = append(messages[field.Name], "this value is required")
			}
			continue
		}

		if msg := checkFormat(raw, field.Type); msg != "" {
			messages[field.Name] = append(messages[field.Name], msg)
			continue
		}

		coerced, err := eav.CoerceValue(raw, field.Type)
		if err != nil {
			messages[field.Name] = append(messages[field.Name], fmt.Sprintf("must be a valid %s value", field.Type))
			continue
		}
		values[field.Name] = coerced
	}

	if len(messages) > 0 {
		return nil, &Invalid{Messages: messages}
	}
	return values, nil
}

// checkFormat runs the go-playground format rules that apply before
// coercion: dates and numbers supplied as strings must parse.
func checkFormat(v eav.Value, t eav.FieldType) string {
	s, isString := v.(eav.String)
	if !isString {
		return ""
	}

	switch t {
	case eav.TypeDate:
		if err := vld.Var(string(s), "datetime="+eav.DateLayout); err != nil {
			return "must be a date in " + eav.DateLayout + " format"
		}
	case eav.TypeInteger, eav.TypeFloat:
		if err := vld.Var(string(s), "numeric"); err != nil {
			return "must be numeric"
		}
	}
	return ""
}

// Struct validates a tagged input struct (entity and field authoring
// inputs) and converts go-playground errors into an *Invalid with
// per-field messages keyed by the json tag name.
func Struct(input any) error {
	err := vld.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs playground.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	messages := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := jsonName(input, fe.StructField())
		messages[key] = append(messages[key], messageFor(fe))
	}
	return &Invalid{Messages: messages}
}

func asValidationErrors(err error, target *playground.ValidationErrors) bool {
	ve, ok := err.(playground.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func messageFor(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this value is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed rule " + fe.Tag()
	}
}

// jsonName maps a struct field name to its json tag, falling back to the
// Go name when untagged.
func jsonName(input any, structField string) string {
	t := reflect.TypeOf(input)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return structField
	}
	f, ok := t.FieldByName(structField)
	if !ok {
		return structField
	}
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return structField
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}
