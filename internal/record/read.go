package record

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
	"github.com/boyhagemann/stratum/internal/querysql"
	"github.com/boyhagemann/stratum/internal/resolve"
)

// Find returns every live record matching the filter, resolved at the
// options' version bound and condition context.
func (s *Store) Find(ctx context.Context, entity *eav.Entity, f query.Filter, opts query.Options) ([]Row, error) {
	sqlText, params, err := querysql.New(entity).Compile(f, opts)
	if err != nil {
		return nil, fmt.Errorf("record: compile filter: %w", err)
	}

	rows, err := s.st.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("record: find: %w", err)
	}
	defer rows.Close()

	fields := entity.Fields()
	var out []Row
	for rows.Next() {
		var (
			id      string
			version int64
			raw     = make([]sql.NullString, len(fields))
			targets = make([]any, 0, len(fields)+2)
		)
		targets = append(targets, &id, &version)
		for i := range raw {
			targets = append(targets, &raw[i])
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("record: scan row: %w", err)
		}

		values := make(map[string]eav.Value, len(fields))
		for i, field := range fields {
			var ptr *string
			if raw[i].Valid {
				ptr = &raw[i].String
			}
			v, err := eav.DecodeValue(ptr, field.Type)
			if err != nil {
				return nil, fmt.Errorf("record: field %q: %w", field.Name, err)
			}
			values[field.Name] = v
		}
		out = append(out, Row{ID: id, Version: version, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: iterate rows: %w", err)
	}
	return out, nil
}

// First returns the first matching live record, or nil when nothing
// matches. Absence is not an error here; Get is the failing variant.
func (s *Store) First(ctx context.Context, entity *eav.Entity, f query.Filter, opts query.Options) (*Row, error) {
	opts.Limit = 1
	rows, err := s.Find(ctx, entity, f, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Get returns the live record with the given id, or ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, entity *eav.Entity, id string, opts query.Options) (*Row, error) {
	row, err := s.First(ctx, entity, query.Filter{
		And: []query.Cond{query.IDIn{IDs: []string{id}}},
	}, opts)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}
	return row, nil
}

// Versions replays a record's full history: the row as it resolved at
// every committed header version, in ascending order, including tombstone
// steps. The replay honors the options' condition context; the version
// bound is the header version itself.
func (s *Store) Versions(ctx context.Context, entity *eav.Entity, id string, opts query.Options) ([]Revision, error) {
	headers, err := s.loadHeaders(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrRecordNotFound, id)
	}

	facts, err := s.loadFacts(ctx, id)
	if err != nil {
		return nil, err
	}

	ctxConditions := opts.Conditions.Normalize()

	deletedRows := make([]resolve.Conditional[bool], len(headers))
	for i, h := range headers {
		deletedRows[i] = resolve.Conditional[bool]{
			Version:    h.version,
			Conditions: h.conditions,
			Payload:    h.deleted,
		}
	}

	var out []Revision
	for _, h := range headers {
		deleted, _ := resolve.Overlay(deletedRows, ctxConditions, h.version)

		values := make(map[string]eav.Value, len(entity.Fields()))
		for _, field := range entity.Fields() {
			raw, _ := resolve.Overlay(facts[field.ID], ctxConditions, h.version)
			v, err := eav.DecodeValue(raw, field.Type)
			if err != nil {
				return nil, fmt.Errorf("record: field %q at version %d: %w", field.Name, h.version, err)
			}
			values[field.Name] = v
		}
		out = append(out, Revision{Version: h.version, Deleted: deleted, Values: values})
	}
	return out, nil
}

// headerRow is one record_header history row.
type headerRow struct {
	version    int64
	deleted    bool
	conditions eav.Conditions
}

func (s *Store) loadHeaders(ctx context.Context, entity *eav.Entity, id string) ([]headerRow, error) {
	rows, err := s.st.Query(ctx,
		`SELECT version, deleted, conditions FROM record_header
		 WHERE id = ? AND entity = ? ORDER BY version`, id, entity.ID())
	if err != nil {
		return nil, fmt.Errorf("record: load headers of %q: %w", id, err)
	}
	defer rows.Close()

	var out []headerRow
	for rows.Next() {
		var (
			h       headerRow
			deleted int64
			conds   *string
		)
		if err := rows.Scan(&h.version, &deleted, &conds); err != nil {
			return nil, fmt.Errorf("record: scan header: %w", err)
		}
		h.deleted = deleted != 0
		if h.conditions, err = eav.ParseConditions(conds); err != nil {
			return nil, fmt.Errorf("record: header %d: %w", h.version, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: iterate headers: %w", err)
	}
	return out, nil
}

// loadFacts returns the record's full fact history keyed by field id.
// Payloads are raw storage values; decoding happens per replay step.
func (s *Store) loadFacts(ctx context.Context, id string) (map[string][]resolve.Conditional[*string], error) {
	rows, err := s.st.Query(ctx,
		`SELECT field, version, value, conditions FROM value_fact
		 WHERE record = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("record: load facts of %q: %w", id, err)
	}
	defer rows.Close()

	out := make(map[string][]resolve.Conditional[*string])
	for rows.Next() {
		var (
			field   string
			version int64
			value   *string
			conds   *string
		)
		if err := rows.Scan(&field, &version, &value, &conds); err != nil {
			return nil, fmt.Errorf("record: scan fact: %w", err)
		}
		conditions, err := eav.ParseConditions(conds)
		if err != nil {
			return nil, fmt.Errorf("record: fact %s@%d: %w", field, version, err)
		}
		out[field] = append(out[field], resolve.Conditional[*string]{
			Version:    version,
			Conditions: conditions,
			Payload:    value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: iterate facts: %w", err)
	}
	return out, nil
}
