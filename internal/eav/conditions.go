package eav

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Conditions is a small context map scoping a value to a condition, for
// example {"lang": "nl"}. An empty map means context-free: the fallback
// partition every field resolution can land on.
type Conditions map[string]string

// NormalizeNFC returns s in Unicode NFC form. Condition keys and values are
// normalized before storage and before matching so that visually identical
// strings compare equal.
func NormalizeNFC(s string) string {
	return norm.NFC.String(s)
}

// Normalize returns a copy of c with all keys and values NFC-normalized.
// A nil map normalizes to nil.
func (c Conditions) Normalize() Conditions {
	if c == nil {
		return nil
	}
	out := make(Conditions, len(c))
	for k, v := range c {
		out[NormalizeNFC(k)] = NormalizeNFC(v)
	}
	return out
}

// Canonical renders the condition map as canonical JSON: byte-sorted keys,
// NFC-normalized strings, no HTML escaping. Returns "" for an empty map,
// which the store persists as SQL NULL (the context-free fallback marker).
func (c Conditions) Canonical() (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	obj := make(Object, len(c))
	for k, v := range c {
		obj[NormalizeNFC(k)] = String(NormalizeNFC(v))
	}
	encoded, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("canonical conditions: %w", err)
	}
	return string(encoded), nil
}

// ParseConditions decodes a stored conditions document. A NULL or empty
// document parses to nil (context-free).
func ParseConditions(raw *string) (Conditions, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var decoded map[string]string
	dec := json.NewDecoder(bytes.NewReader([]byte(*raw)))
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse conditions %q: %w", *raw, err)
	}
	return Conditions(decoded).Normalize(), nil
}

// Match reports whether c is a non-empty subset of the caller context:
// every key in c must be present in ctx with an equal value. An empty c
// never matches; it is the fallback, not an overlay.
func (c Conditions) Match(ctx Conditions) bool {
	if len(c) == 0 {
		return false
	}
	for k, v := range c {
		got, ok := ctx[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}
