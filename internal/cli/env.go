package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
	"github.com/boyhagemann/stratum/internal/record"
	"github.com/boyhagemann/stratum/internal/schema"
	"github.com/boyhagemann/stratum/internal/store"
	"github.com/boyhagemann/stratum/internal/token"
	"github.com/boyhagemann/stratum/internal/validate"
)

// env bundles the stores a command operates on.
type env struct {
	st      *store.Store
	catalog *schema.Catalog
	records *record.Store
}

func openEnv(opts *RootOptions) (*env, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "no database path: pass --db or set db in the config file")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	tokens := token.UUIDv7Source{}
	return &env{
		st:      st,
		catalog: schema.New(st, tokens),
		records: record.New(st, validate.RecordFactory{}, tokens),
	}, nil
}

func (e *env) Close() {
	e.st.Close()
}

// readFlags are the resolution flags shared by read and mutate commands.
// Version bounds record resolution; SchemaVersion pins the entity shape,
// the two histories advance independently.
type readFlags struct {
	Version       int64
	SchemaVersion int64
	Lang          string
	Conditions    []string
}

func (rf *readFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&rf.Version, "version", 0, "resolve records at this version bound (0 = latest)")
	cmd.Flags().Int64Var(&rf.SchemaVersion, "schema-version", 0, "pin the entity shape at this schema version (0 = latest)")
	cmd.Flags().StringVar(&rf.Lang, "lang", "", "BCP-47 language condition, canonicalized (e.g. nl, en-US)")
	cmd.Flags().StringArrayVar(&rf.Conditions, "cond", nil, "condition key=value, repeatable")
}

// options assembles query options from config defaults plus flags. The
// --lang shorthand canonicalizes through x/text before becoming the
// "lang" condition, so nl-NL and nl_nl store and match identically.
func (rf *readFlags) options(opts *RootOptions) (query.Options, error) {
	conditions := make(eav.Conditions, len(opts.DefaultConditions)+len(rf.Conditions)+1)
	for k, v := range opts.DefaultConditions {
		conditions[k] = v
	}
	for _, pair := range rf.Conditions {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return query.Options{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid condition %q: expected key=value", pair))
		}
		conditions[key] = value
	}
	if rf.Lang != "" {
		tag, err := language.Parse(rf.Lang)
		if err != nil {
			return query.Options{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid language %q", rf.Lang), err)
		}
		conditions["lang"] = tag.String()
	}
	if len(conditions) == 0 {
		conditions = nil
	}
	return query.Options{Version: rf.Version, Conditions: conditions}, nil
}

// whereOps in match order: two-character operators before their prefixes.
var whereOps = []query.Op{query.OpLte, query.OpGte, query.OpNe, query.OpEq, query.OpLt, query.OpGt}

// parseWhere turns --where clauses ("price>=10", "name=Wine", "tags=sale")
// into filter conditions against the entity shape.
func parseWhere(entity *eav.Entity, clauses []string) (query.Filter, error) {
	var f query.Filter
	for _, clause := range clauses {
		cond, err := parseWhereClause(entity, clause)
		if err != nil {
			return query.Filter{}, err
		}
		f.And = append(f.And, cond)
	}
	return f, nil
}

func parseWhereClause(entity *eav.Entity, clause string) (query.Cond, error) {
	for _, op := range whereOps {
		idx := strings.Index(clause, string(op))
		if idx <= 0 {
			continue
		}
		fieldRef := strings.TrimSpace(clause[:idx])
		raw := clause[idx+len(op):]

		value, err := coerceWhereValue(entity, fieldRef, raw)
		if err != nil {
			return nil, err
		}
		return query.ForEntity(entity, fieldRef, op, value)
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid where clause %q: expected field<op>value", clause))
}

// coerceWhereValue parses the textual operand into the variant the target
// field compares as. Identity and json containment stay strings.
func coerceWhereValue(entity *eav.Entity, fieldRef, raw string) (eav.Value, error) {
	if fieldRef == query.IDField {
		return eav.String(raw), nil
	}

	fieldID := fieldRef
	if idx := strings.IndexByte(fieldRef, '.'); idx >= 0 {
		fieldID = fieldRef[:idx]
	}
	field, ok := entity.FieldByID(fieldID)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown field %q", fieldID))
	}
	if field.Type == eav.TypeJSON || field.Collection {
		return eav.String(raw), nil
	}

	coerced, err := eav.CoerceValue(eav.String(raw), field.Type)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("field %q", fieldID), err)
	}
	return coerced, nil
}

// parseSet turns --set pairs ("name=Wine", "profile={\"city\":\"Utrecht\"}")
// into a mutation payload keyed by field name. Scalar values stay strings;
// the record validator coerces them per field type. Json fields parse here.
func parseSet(entity *eav.Entity, pairs []string) (map[string]eav.Value, error) {
	data := make(map[string]eav.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid value %q: expected field=value", pair))
		}

		field, found := entity.FieldByName(name)
		if found && field.Type == eav.TypeJSON {
			parsed, err := eav.UnmarshalJSONValue([]byte(raw))
			if err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("field %q", name), err)
			}
			data[name] = parsed
			continue
		}
		data[name] = eav.String(raw)
	}
	return data, nil
}
