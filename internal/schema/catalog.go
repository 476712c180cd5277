// Package schema is the catalog of entity shapes: versioned field
// definitions grouped under stable entity ids.
//
// Field history rows are sparse: an update appends a row carrying only the
// attributes that changed, and readers reconstruct the shape by resolving
// each attribute independently as the latest non-null value at or below the
// version bound. Histories are small, so reconstruction happens in memory;
// the record query path resolves the same way in SQL.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/resolve"
	"github.com/boyhagemann/stratum/internal/store"
	"github.com/boyhagemann/stratum/internal/token"
	"github.com/boyhagemann/stratum/internal/validate"
)

// versionRetries bounds the optimistic allocation loop on UNIQUE(id,version).
const versionRetries = 3

// Catalog reads and writes entity shapes.
type Catalog struct {
	st     *store.Store
	tokens token.Source
	log    *slog.Logger
}

// New creates a Catalog on a store.
func New(st *store.Store, tokens token.Source) *Catalog {
	return &Catalog{st: st, tokens: tokens, log: slog.Default()}
}

// EntityInput is the authoring payload for a new entity.
type EntityInput struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// FieldInput is the authoring payload for a new field. ID is optional and
// generated when absent; Order defaults to the owner's current field count.
type FieldInput struct {
	ID         string        `json:"id"`
	Entity     string        `json:"entity" validate:"required"`
	Name       string        `json:"name" validate:"required"`
	Order      *int64        `json:"order"`
	Type       eav.FieldType `json:"type" validate:"required,oneof=string integer float bool date json"`
	Required   bool          `json:"required"`
	Collection bool          `json:"collection"`
}

// FieldPatch carries the attributes of a field update. Nil attributes are
// untouched; the appended history row stores only what changed.
type FieldPatch struct {
	Name       *string        `json:"name"`
	Order      *int64         `json:"order"`
	Type       *eav.FieldType `json:"type" validate:"omitempty,oneof=string integer float bool date json"`
	Required   *bool          `json:"required"`
	Collection *bool          `json:"collection"`
}

// GetEntity returns the entity handle pinned to a version bound. Version 0
// means latest. The handle's field list is reconstructed from the sparse
// field history at the bound.
func (c *Catalog) GetEntity(ctx context.Context, id string, version int64) (*eav.Entity, error) {
	if version < 0 {
		return nil, fmt.Errorf("schema: negative version bound %d", version)
	}

	var (
		uuid string
		name sql.NullString
	)
	row := c.st.QueryRow(ctx, `SELECT uuid, name FROM entity_schema WHERE id = ?`, id)
	if err := row.Scan(&uuid, &name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)
		}
		return nil, fmt.Errorf("schema: load entity %q: %w", id, err)
	}

	histories, err := c.loadFieldHistories(ctx)
	if err != nil {
		return nil, err
	}

	var (
		fields     []eav.Field
		maxVersion int64 = 1
	)
	for fieldID, rows := range histories {
		// Ownership is part of the sparse history too, so resolve it
		// unbounded to find this entity's fields before bounding.
		owner, ok := resolveField(fieldID, rows, resolve.Unbounded)
		if !ok || owner.Entity != id {
			continue
		}
		for _, r := range rows {
			if r.version > maxVersion {
				maxVersion = r.version
			}
		}
		field, ok := resolveField(fieldID, rows, version)
		if !ok {
			continue
		}
		fields = append(fields, field)
	}

	if version > maxVersion {
		return nil, fmt.Errorf("%w: %q version %d", ErrSchemaVersionNotFound, id, version)
	}

	pinned := version
	if pinned == resolve.Unbounded {
		pinned = maxVersion
	}
	return eav.NewEntity(uuid, id, pinned, fields), nil
}

// CreateEntity registers a new entity id.
func (c *Catalog) CreateEntity(ctx context.Context, input EntityInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}

	_, err := c.st.Exec(ctx,
		`INSERT INTO entity_schema (uuid, id, version, name) VALUES (?, ?, 1, ?)`,
		c.tokens.Next(), input.ID, input.Name)
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("%w: entity %q", ErrDuplicateID, input.ID)
	}
	if err != nil {
		return fmt.Errorf("schema: create entity %q: %w", input.ID, err)
	}

	c.log.Debug("entity created", "entity", input.ID)
	return nil
}

// CreateField appends version 1 of a new field under an existing entity.
func (c *Catalog) CreateField(ctx context.Context, input FieldInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}

	var exists int
	row := c.st.QueryRow(ctx, `SELECT COUNT(*) FROM entity_schema WHERE id = ?`, input.Entity)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("schema: check entity %q: %w", input.Entity, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %q", ErrSchemaNotFound, input.Entity)
	}

	id := input.ID
	if id == "" {
		id = c.tokens.Next()
	}

	return c.st.WithTx(ctx, func(tx *sql.Tx) error {
		ord := input.Order
		if ord == nil {
			var count int64
			row := tx.QueryRowContext(ctx,
				`SELECT COUNT(DISTINCT id) FROM field_def WHERE entity = ?`, input.Entity)
			if err := row.Scan(&count); err != nil {
				return fmt.Errorf("schema: count fields of %q: %w", input.Entity, err)
			}
			ord = &count
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO field_def (uuid, id, version, entity, name, ord, type, required, collection)
			 VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)`,
			c.tokens.Next(), id, input.Entity, input.Name, *ord, string(input.Type),
			boolInt(input.Required), boolInt(input.Collection))
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("%w: field %q", ErrDuplicateID, id)
		}
		if err != nil {
			return fmt.Errorf("schema: create field %q: %w", id, err)
		}

		c.log.Debug("field created", "entity", input.Entity, "field", id)
		return nil
	})
}

// UpdateField appends a new field version carrying only the patched
// attributes. A patch that resolves to the current shape is rejected with
// ErrFieldNotChanged rather than written.
func (c *Catalog) UpdateField(ctx context.Context, id string, patch FieldPatch) error {
	if err := validate.Struct(patch); err != nil {
		return err
	}

	for attempt := 0; attempt < versionRetries; attempt++ {
		rows, err := c.loadFieldHistory(ctx, id)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %q", ErrFieldNotFound, id)
		}

		current, _ := resolveField(id, rows, resolve.Unbounded)
		patch := pruneUnchanged(patch, current)
		if patch == (FieldPatch{}) {
			return fmt.Errorf("%w: %q", ErrFieldNotChanged, id)
		}

		var next int64 = 1
		for _, r := range rows {
			if r.version >= next {
				next = r.version + 1
			}
		}

		var typeCol *string
		if patch.Type != nil {
			s := string(*patch.Type)
			typeCol = &s
		}

		_, err = c.st.Exec(ctx,
			`INSERT INTO field_def (uuid, id, version, name, ord, type, required, collection)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.tokens.Next(), id, next, patch.Name, patch.Order, typeCol,
			boolIntPtr(patch.Required), boolIntPtr(patch.Collection))
		if store.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("schema: update field %q: %w", id, err)
		}

		c.log.Debug("field updated", "field", id, "version", next)
		return nil
	}
	return fmt.Errorf("%w: field %q", ErrVersionConflict, id)
}

// FieldCond filters reconstructed field shapes by one attribute.
type FieldCond struct {
	Attr  string // id, entity, name, type, order, required, collection
	Op    string // "=" or "!="
	Value any
}

// FindOptions bounds a field search.
type FindOptions struct {
	Version int64
}

// FindFields returns the field shapes matching every condition, resolved
// at the version bound and sorted in output column order.
func (c *Catalog) FindFields(ctx context.Context, conds []FieldCond, opts FindOptions) ([]eav.Field, error) {
	histories, err := c.loadFieldHistories(ctx)
	if err != nil {
		return nil, err
	}

	var out []eav.Field
	for fieldID, rows := range histories {
		field, ok := resolveField(fieldID, rows, opts.Version)
		if !ok {
			continue
		}
		match := true
		for _, cond := range conds {
			hit, err := matchFieldCond(field, cond)
			if err != nil {
				return nil, err
			}
			if !hit {
				match = false
				break
			}
		}
		if match {
			out = append(out, field)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// fieldRow is one raw field_def history row. Attribute columns are
// pointers: nil marks an attribute the row does not carry.
type fieldRow struct {
	uuid       string
	version    int64
	entity     *string
	name       *string
	ord        *int64
	ftype      *string
	required   *int64
	collection *int64
}

func (c *Catalog) loadFieldHistories(ctx context.Context) (map[string][]fieldRow, error) {
	rows, err := c.st.Query(ctx,
		`SELECT id, uuid, version, entity, name, ord, type, required, collection
		 FROM field_def ORDER BY id, version`)
	if err != nil {
		return nil, fmt.Errorf("schema: load field history: %w", err)
	}
	defer rows.Close()

	histories := make(map[string][]fieldRow)
	for rows.Next() {
		var (
			id string
			r  fieldRow
		)
		if err := rows.Scan(&id, &r.uuid, &r.version, &r.entity, &r.name, &r.ord,
			&r.ftype, &r.required, &r.collection); err != nil {
			return nil, fmt.Errorf("schema: scan field row: %w", err)
		}
		histories[id] = append(histories[id], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: iterate field history: %w", err)
	}
	return histories, nil
}

func (c *Catalog) loadFieldHistory(ctx context.Context, id string) ([]fieldRow, error) {
	histories, err := c.loadFieldHistories(ctx)
	if err != nil {
		return nil, err
	}
	return histories[id], nil
}

// resolveField reconstructs one field shape at a bound: each attribute is
// the latest non-null value <= bound, and the shape's Version/UUID come
// from the latest contributing row.
func resolveField(id string, rows []fieldRow, bound int64) (eav.Field, bool) {
	type rowRef struct {
		uuid    string
		version int64
	}
	var (
		refs       []resolve.Versioned[rowRef]
		entity     []resolve.Versioned[string]
		name       []resolve.Versioned[string]
		ord        []resolve.Versioned[int64]
		ftype      []resolve.Versioned[string]
		required   []resolve.Versioned[bool]
		collection []resolve.Versioned[bool]
	)
	for _, r := range rows {
		refs = append(refs, resolve.Versioned[rowRef]{Version: r.version, Payload: rowRef{r.uuid, r.version}})
		if r.entity != nil {
			entity = append(entity, resolve.Versioned[string]{Version: r.version, Payload: *r.entity})
		}
		if r.name != nil {
			name = append(name, resolve.Versioned[string]{Version: r.version, Payload: *r.name})
		}
		if r.ord != nil {
			ord = append(ord, resolve.Versioned[int64]{Version: r.version, Payload: *r.ord})
		}
		if r.ftype != nil {
			ftype = append(ftype, resolve.Versioned[string]{Version: r.version, Payload: *r.ftype})
		}
		if r.required != nil {
			required = append(required, resolve.Versioned[bool]{Version: r.version, Payload: *r.required != 0})
		}
		if r.collection != nil {
			collection = append(collection, resolve.Versioned[bool]{Version: r.version, Payload: *r.collection != 0})
		}
	}

	ref, ok := resolve.Latest(refs, bound)
	if !ok {
		return eav.Field{}, false
	}

	field := eav.Field{UUID: ref.uuid, ID: id, Version: ref.version}
	field.Entity, _ = resolve.Latest(entity, bound)
	field.Name, _ = resolve.Latest(name, bound)
	field.Order, _ = resolve.Latest(ord, bound)
	if t, ok := resolve.Latest(ftype, bound); ok {
		field.Type = eav.FieldType(t)
	}
	field.Required, _ = resolve.Latest(required, bound)
	field.Collection, _ = resolve.Latest(collection, bound)
	return field, true
}

// pruneUnchanged drops patch attributes equal to the current shape, so
// appended rows carry real changes only.
func pruneUnchanged(patch FieldPatch, current eav.Field) FieldPatch {
	if patch.Name != nil && *patch.Name == current.Name {
		patch.Name = nil
	}
	if patch.Order != nil && *patch.Order == current.Order {
		patch.Order = nil
	}
	if patch.Type != nil && *patch.Type == current.Type {
		patch.Type = nil
	}
	if patch.Required != nil && *patch.Required == current.Required {
		patch.Required = nil
	}
	if patch.Collection != nil && *patch.Collection == current.Collection {
		patch.Collection = nil
	}
	return patch
}

func matchFieldCond(f eav.Field, cond FieldCond) (bool, error) {
	var got any
	switch cond.Attr {
	case "id":
		got = f.ID
	case "entity":
		got = f.Entity
	case "name":
		got = f.Name
	case "type":
		got = string(f.Type)
	case "order":
		got = f.Order
	case "required":
		got = f.Required
	case "collection":
		got = f.Collection
	default:
		return false, fmt.Errorf("schema: unknown field attribute %q", cond.Attr)
	}

	want := cond.Value
	if t, ok := want.(eav.FieldType); ok {
		want = string(t)
	}
	if i, ok := want.(int); ok {
		want = int64(i)
	}

	switch cond.Op {
	case "=", "":
		return got == want, nil
	case "!=":
		return got != want, nil
	default:
		return false, fmt.Errorf("schema: unsupported field operator %q", cond.Op)
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func boolIntPtr(b *bool) *int64 {
	if b == nil {
		return nil
	}
	v := boolInt(*b)
	return &v
}
