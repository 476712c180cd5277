// Package querysql compiles the abstract filter AST into parameterized
// SQLite queries against the versioned tables.
//
// Every value lookup is a correlated "greatest version <= bound" subquery;
// when a caller context is present the lookup becomes a COALESCE of the
// condition-matching partition and the context-free fallback, so the two
// resolution axes (version, condition match) compose per field. All values
// are parameterized, never interpolated, and every query carries a
// deterministic ORDER BY tiebreaker.
package querysql

import (
	"fmt"
	"strings"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
)

// Compiler compiles filters for one entity handle. The handle supplies the
// field list that shapes the SELECT columns and the type information that
// decides comparison encoding.
type Compiler struct {
	entity *eav.Entity
}

// New creates a Compiler bound to an entity handle.
func New(entity *eav.Entity) *Compiler {
	return &Compiler{entity: entity}
}

// Compile turns a filter plus options into one SELECT over record_header.
//
// Column shape: _id, _version, then one column per handle field in output
// order. Only live records at the version bound are emitted; liveness is
// resolved through the same condition wrapping as values.
func (c *Compiler) Compile(f query.Filter, opts query.Options) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}

	ctxJSON, err := opts.Conditions.Normalize().Canonical()
	if err != nil {
		return "", nil, err
	}

	var (
		sb     strings.Builder
		params []any
	)

	// SELECT list: identity, resolved version, one subquery per field.
	sb.WriteString("SELECT r.id AS _id, ")
	versionFrag := c.headerFragment("version", opts.Version, ctxJSON)
	sb.WriteString(versionFrag.sql)
	sb.WriteString(" AS _version")
	params = append(params, versionFrag.params...)

	for _, field := range c.entity.Fields() {
		valueFrag := c.valueFragment(field.ID, opts.Version, ctxJSON)
		sb.WriteString(", ")
		sb.WriteString(valueFrag.sql)
		sb.WriteString(" AS ")
		sb.WriteString(quoteIdent(field.Name))
		params = append(params, valueFrag.params...)
	}

	sb.WriteString(" FROM record_header r WHERE r.entity = ?")
	params = append(params, c.entity.ID())

	// Liveness: latest deleted flag at the bound must be 0, resolved
	// through the same overlay wrapping as values.
	deletedFrag := c.headerFragment("deleted", opts.Version, ctxJSON)
	sb.WriteString(" AND ")
	sb.WriteString(deletedFrag.sql)
	sb.WriteString(" = 0")
	params = append(params, deletedFrag.params...)

	andSQL, andParams, err := c.compileGroup(f.And, " AND ", opts, ctxJSON)
	if err != nil {
		return "", nil, err
	}
	if andSQL != "" {
		sb.WriteString(" AND ")
		sb.WriteString(andSQL)
		params = append(params, andParams...)
	}

	orSQL, orParams, err := c.compileGroup(f.Or, " OR ", opts, ctxJSON)
	if err != nil {
		return "", nil, err
	}
	if orSQL != "" {
		sb.WriteString(" AND (")
		sb.WriteString(orSQL)
		sb.WriteString(")")
		params = append(params, orParams...)
	}

	sb.WriteString(" GROUP BY r.id")

	orderSQL, orderParams, err := c.compileOrder(opts, ctxJSON)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(orderSQL)
	params = append(params, orderParams...)

	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, opts.Limit)
	}

	return sb.String(), params, nil
}

// fragment is a SQL expression with its positional parameters, in text
// order so the caller can append them in lockstep.
type fragment struct {
	sql    string
	params []any
}

// valueFragment builds the correlated point-in-time lookup for one field:
// the value of the greatest fact version <= bound. With a caller context,
// the matching-overlay partition is preferred over the context-free
// fallback via COALESCE, mirroring the in-memory resolver.
func (c *Compiler) valueFragment(fieldID string, bound int64, ctxJSON string) fragment {
	fallback := fragment{
		sql:    "SELECT v.value FROM value_fact v WHERE v.record = r.id AND v.field = ? AND v.conditions IS NULL",
		params: []any{fieldID},
	}
	if bound > 0 {
		fallback.sql += " AND v.version <= ?"
		fallback.params = append(fallback.params, bound)
	}
	fallback.sql += " ORDER BY v.version DESC LIMIT 1"

	if ctxJSON == "" {
		return fragment{sql: "(" + fallback.sql + ")", params: fallback.params}
	}

	// An overlay matches when every one of its condition keys is present
	// in the caller context with an equal value (non-empty subset match).
	overlay := fragment{
		sql: "SELECT v.value FROM value_fact v WHERE v.record = r.id AND v.field = ? AND v.conditions IS NOT NULL" +
			" AND NOT EXISTS (SELECT 1 FROM json_each(v.conditions) c WHERE json_extract(?, '$.' || c.key) IS NOT c.value)",
		params: []any{fieldID, ctxJSON},
	}
	if bound > 0 {
		overlay.sql += " AND v.version <= ?"
		overlay.params = append(overlay.params, bound)
	}
	overlay.sql += " ORDER BY v.version DESC LIMIT 1"

	return fragment{
		sql:    "COALESCE((" + overlay.sql + "), (" + fallback.sql + "))",
		params: append(overlay.params, fallback.params...),
	}
}

// headerFragment builds the correlated lookup of one record_header column
// at the version bound. Headers carry a conditions column too, so record
// liveness can be condition-scoped exactly like values.
func (c *Compiler) headerFragment(column string, bound int64, ctxJSON string) fragment {
	fallback := fragment{
		sql: "SELECT h." + column + " FROM record_header h WHERE h.id = r.id AND h.conditions IS NULL",
	}
	if bound > 0 {
		fallback.sql += " AND h.version <= ?"
		fallback.params = append(fallback.params, bound)
	}
	fallback.sql += " ORDER BY h.version DESC LIMIT 1"

	if ctxJSON == "" {
		return fragment{sql: "(" + fallback.sql + ")", params: fallback.params}
	}

	overlay := fragment{
		sql: "SELECT h." + column + " FROM record_header h WHERE h.id = r.id AND h.conditions IS NOT NULL" +
			" AND NOT EXISTS (SELECT 1 FROM json_each(h.conditions) c WHERE json_extract(?, '$.' || c.key) IS NOT c.value)",
		params: []any{ctxJSON},
	}
	if bound > 0 {
		overlay.sql += " AND h.version <= ?"
		overlay.params = append(overlay.params, bound)
	}
	overlay.sql += " ORDER BY h.version DESC LIMIT 1"

	return fragment{
		sql:    "COALESCE((" + overlay.sql + "), (" + fallback.sql + "))",
		params: append(overlay.params, fallback.params...),
	}
}

// compileGroup compiles one flat condition group joined by sep.
func (c *Compiler) compileGroup(conds []query.Cond, sep string, opts query.Options, ctxJSON string) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	var (
		parts  []string
		params []any
	)
	for _, cond := range conds {
		frag, err := c.compileCond(cond, opts, ctxJSON)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, frag.sql)
		params = append(params, frag.params...)
	}
	return strings.Join(parts, sep), params, nil
}

func (c *Compiler) compileCond(cond query.Cond, opts query.Options, ctxJSON string) (fragment, error) {
	switch cn := cond.(type) {
	case query.Compare:
		return c.compileCompare(cn, opts, ctxJSON)
	case query.IDIn:
		return fragment{
			sql:    "r.id IN (" + placeholders(len(cn.IDs)) + ")",
			params: stringParams(cn.IDs),
		}, nil
	case query.Contains:
		return c.compileContains(cn, opts, ctxJSON)
	default:
		return fragment{}, fmt.Errorf("unsupported condition type: %T", cond)
	}
}

// compileCompare compiles a scalar comparison. The identity pseudo-field
// compares directly against record_header.id, bypassing fact resolution.
func (c *Compiler) compileCompare(cn query.Compare, opts query.Options, ctxJSON string) (fragment, error) {
	if cn.Field == query.IDField {
		if cn.Op == query.OpIn {
			arr := cn.Value.(eav.Array)
			params := make([]any, len(arr))
			for i, elem := range arr {
				params[i] = eav.ToAny(elem)
			}
			return fragment{sql: "r.id IN (" + placeholders(len(arr)) + ")", params: params}, nil
		}
		return fragment{sql: "r.id " + string(cn.Op) + " ?", params: []any{eav.ToAny(cn.Value)}}, nil
	}

	field, ok := c.entity.FieldByID(cn.Field)
	if !ok {
		return fragment{}, fmt.Errorf("unknown field %q", cn.Field)
	}

	frag := c.valueFragment(field.ID, opts.Version, ctxJSON)
	left := frag.sql
	// Numeric fields compare numerically, not as encoded text.
	numeric := field.Type == eav.TypeInteger || field.Type == eav.TypeFloat
	if numeric {
		left = "CAST(" + left + " AS NUMERIC)"
	}

	if cn.Op == query.OpIn {
		arr := cn.Value.(eav.Array)
		params := append([]any{}, frag.params...)
		for _, elem := range arr {
			p, err := compareParam(elem, field.Type, numeric)
			if err != nil {
				return fragment{}, fmt.Errorf("field %q: %w", cn.Field, err)
			}
			params = append(params, p)
		}
		return fragment{sql: left + " IN (" + placeholders(len(arr)) + ")", params: params}, nil
	}

	p, err := compareParam(cn.Value, field.Type, numeric)
	if err != nil {
		return fragment{}, fmt.Errorf("field %q: %w", cn.Field, err)
	}
	return fragment{
		sql:    left + " " + string(cn.Op) + " ?",
		params: append(append([]any{}, frag.params...), p),
	}, nil
}

// compileContains compiles containment inside a json field. json_each
// iterates array elements, object member values, or yields the scalar
// itself, so one EXISTS covers all three target shapes. The needle is
// bound as canonical JSON and unwrapped with json_extract so text and
// numeric needles compare correctly.
func (c *Compiler) compileContains(cn query.Contains, opts query.Options, ctxJSON string) (fragment, error) {
	field, ok := c.entity.FieldByID(cn.Field)
	if !ok {
		return fragment{}, fmt.Errorf("unknown field %q", cn.Field)
	}
	if field.Type != eav.TypeJSON && !field.Collection {
		return fragment{}, fmt.Errorf("field %q: containment requires a json or collection field", cn.Field)
	}

	needle, err := eav.MarshalCanonical(cn.Value)
	if err != nil {
		return fragment{}, fmt.Errorf("field %q: %w", cn.Field, err)
	}

	frag := c.valueFragment(field.ID, opts.Version, ctxJSON)
	source := "json_each(" + frag.sql + ")"
	if cn.Path != "" {
		if strings.ContainsAny(cn.Path, `'"[]`) {
			return fragment{}, fmt.Errorf("field %q: invalid containment path %q", cn.Field, cn.Path)
		}
		source = "json_each(" + frag.sql + ", '$." + cn.Path + "')"
	}

	return fragment{
		sql:    "EXISTS (SELECT 1 FROM " + source + " je WHERE je.value = json_extract(?, '$'))",
		params: append(append([]any{}, frag.params...), string(needle)),
	}, nil
}

// compileOrder builds the ORDER BY clause. Ordering by a field resolves
// the field's value; identity ordering is direct. Either way the id
// tiebreaker keeps results deterministic across runs.
func (c *Compiler) compileOrder(opts query.Options, ctxJSON string) (string, []any, error) {
	dir := " ASC"
	if opts.Direction == query.Desc {
		dir = " DESC"
	}

	if opts.Order == "" || opts.Order == query.IDField {
		return " ORDER BY r.id COLLATE BINARY" + dir, nil, nil
	}

	field, ok := c.entity.FieldByID(opts.Order)
	if !ok {
		// Ordering by the resolved name is accepted too; the CLI passes
		// names through untranslated.
		field, ok = c.entity.FieldByName(opts.Order)
		if !ok {
			return "", nil, fmt.Errorf("unknown order field %q", opts.Order)
		}
	}

	frag := c.valueFragment(field.ID, opts.Version, ctxJSON)
	return " ORDER BY " + frag.sql + dir + ", r.id COLLATE BINARY ASC", frag.params, nil
}

// quoteIdent quotes a column alias. Field names are caller-defined, so
// they are always quoted.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringParams(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// compareParam encodes a comparison literal: numeric fields bind native
// numbers, everything else binds the canonical storage encoding.
func compareParam(v eav.Value, t eav.FieldType, numeric bool) (any, error) {
	if numeric {
		switch n := v.(type) {
		case eav.Int:
			return int64(n), nil
		case eav.Float:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("cannot compare %T numerically", v)
		}
	}
	encoded, err := eav.EncodeValue(v, t)
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		return nil, nil
	}
	return *encoded, nil
}
