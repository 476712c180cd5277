package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
	"github.com/boyhagemann/stratum/internal/store"
)

// Insert creates a record at version 1: one live header plus one
// context-free fact per declared field, absent fields defaulting to null.
// The id comes from the data's "_id" key or the token source. An existing
// lineage under the id, live or tombstoned, rejects with ErrDuplicateID.
func (s *Store) Insert(ctx context.Context, entity *eav.Entity, data map[string]eav.Value, opts query.Options) (string, error) {
	values, err := s.vals.For(entity).ValidateCreate(data)
	if err != nil {
		return "", err
	}

	id := s.tokens.Next()
	if supplied, ok := data[query.IDField].(eav.String); ok && supplied != "" {
		id = string(supplied)
	}

	err = s.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO record_header (uuid, id, version, entity, deleted) VALUES (?, ?, 1, ?, 0)`,
			s.tokens.Next(), id, entity.ID())
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		if err != nil {
			return fmt.Errorf("record: insert header %q: %w", id, err)
		}

		// Insert always writes the context-free fallback partition, so
		// every field ever set has a fact overlays can shadow.
		for _, field := range entity.Fields() {
			value, ok := values[field.Name]
			if !ok {
				value = eav.Null{}
			}
			encoded, err := eav.EncodeValue(value, field.Type)
			if err != nil {
				return fmt.Errorf("record: encode %q: %w", field.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO value_fact (uuid, record, field, version, value) VALUES (?, ?, ?, 1, ?)`,
				s.tokens.Next(), id, field.ID, encoded); err != nil {
				return fmt.Errorf("record: insert fact %q: %w", field.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Debug("record inserted", "entity", entity.ID(), "id", id)
	return id, nil
}

// Update appends a new version carrying only the changed fields. The
// record must resolve live; a payload equal to current state rejects with
// ErrRecordNotChanged and writes nothing. With a condition context in the
// options, the appended facts are scoped to that context as overlays.
func (s *Store) Update(ctx context.Context, entity *eav.Entity, id string, data map[string]eav.Value, opts query.Options) error {
	values, err := s.vals.For(entity).ValidateUpdate(id, data)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < versionRetries; attempt++ {
		current, err := s.Get(ctx, entity, id, opts)
		if err != nil {
			return err
		}

		changes := diff(current.Values, values)
		if len(changes) == 0 {
			return fmt.Errorf("%w: %q", ErrRecordNotChanged, id)
		}

		next, err := s.nextVersion(ctx, id)
		if err != nil {
			return err
		}

		err = s.appendVersion(ctx, entity, id, next, false, changes, opts.Conditions)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.log.Debug("record updated", "entity", entity.ID(), "id", id, "version", next, "fields", len(changes))
		return nil
	}
	return fmt.Errorf("%w: %q", ErrVersionConflict, id)
}

// Upsert converges the record to the given state: update when the id
// resolves live, insert when it does not. A no-diff update counts as
// converged, not failed. Tombstoned ids stay terminal: the insert fallback
// rejects them with ErrDuplicateID.
func (s *Store) Upsert(ctx context.Context, entity *eav.Entity, id string, data map[string]eav.Value, opts query.Options) error {
	err := s.Update(ctx, entity, id, data, opts)
	if errors.Is(err, ErrRecordNotChanged) {
		return nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	forced := make(map[string]eav.Value, len(data)+1)
	for k, v := range data {
		forced[k] = v
	}
	forced[query.IDField] = eav.String(id)
	_, err = s.Insert(ctx, entity, forced, opts)
	return err
}

// Delete appends a tombstone header at the next version, with no new
// facts. History below the tombstone stays readable; the record is no
// longer live at or after it. With a condition context the tombstone is
// scoped, so liveness can differ per context.
func (s *Store) Delete(ctx context.Context, entity *eav.Entity, id string, opts query.Options) error {
	for attempt := 0; attempt < versionRetries; attempt++ {
		if _, err := s.Get(ctx, entity, id, opts); err != nil {
			return err
		}

		next, err := s.nextVersion(ctx, id)
		if err != nil {
			return err
		}

		err = s.appendVersion(ctx, entity, id, next, true, nil, opts.Conditions)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.log.Debug("record deleted", "entity", entity.ID(), "id", id, "version", next)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrVersionConflict, id)
}

// UpdateWhere applies Update to every record matching the filter, row by
// row in its own transaction. No-diff rows are skipped. The first hard
// failure stops the scan and is reported as a BulkError; prior rows stay
// committed. Returns the number of rows actually updated.
func (s *Store) UpdateWhere(ctx context.Context, entity *eav.Entity, f query.Filter, data map[string]eav.Value, opts query.Options) (int, error) {
	rows, err := s.Find(ctx, entity, f, opts)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, row := range rows {
		err := s.Update(ctx, entity, row.ID, data, opts)
		if errors.Is(err, ErrRecordNotChanged) {
			continue
		}
		if err != nil {
			return applied, &BulkError{Applied: applied, FailedID: row.ID, Err: err}
		}
		applied++
	}
	return applied, nil
}

// DeleteWhere applies Delete to every record matching the filter, with the
// same per-row semantics as UpdateWhere. Returns the number of tombstones
// written.
func (s *Store) DeleteWhere(ctx context.Context, entity *eav.Entity, f query.Filter, opts query.Options) (int, error) {
	rows, err := s.Find(ctx, entity, f, opts)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, row := range rows {
		if err := s.Delete(ctx, entity, row.ID, opts); err != nil {
			return applied, &BulkError{Applied: applied, FailedID: row.ID, Err: err}
		}
		applied++
	}
	return applied, nil
}

// nextVersion computes previous_max+1 for a record lineage. The value is
// only a candidate: UNIQUE(id, version) arbitrates between concurrent
// writers at insert time.
func (s *Store) nextVersion(ctx context.Context, id string) (int64, error) {
	var max int64
	row := s.st.QueryRow(ctx, `SELECT IFNULL(MAX(version), 0) FROM record_header WHERE id = ?`, id)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("record: next version of %q: %w", id, err)
	}
	return max + 1, nil
}

// appendVersion commits one mutation step: the header row plus one fact
// per changed field, all at the same version, atomically. A unique
// violation on the header means another writer won the version; the
// caller retries with a fresh read.
func (s *Store) appendVersion(ctx context.Context, entity *eav.Entity, id string, version int64, deleted bool, changes map[string]eav.Value, conditions eav.Conditions) error {
	scope, err := conditions.Normalize().Canonical()
	if err != nil {
		return err
	}
	var scopeCol *string
	if scope != "" {
		scopeCol = &scope
	}

	deletedCol := int64(0)
	if deleted {
		deletedCol = 1
	}

	return s.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO record_header (uuid, id, version, entity, deleted, conditions) VALUES (?, ?, ?, ?, ?, ?)`,
			s.tokens.Next(), id, version, entity.ID(), deletedCol, scopeCol)
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q version %d", ErrVersionConflict, id, version)
		}
		if err != nil {
			return fmt.Errorf("record: append header %q@%d: %w", id, version, err)
		}

		for _, field := range entity.Fields() {
			value, ok := changes[field.Name]
			if !ok {
				continue
			}
			encoded, err := eav.EncodeValue(value, field.Type)
			if err != nil {
				return fmt.Errorf("record: encode %q: %w", field.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO value_fact (uuid, record, field, version, value, conditions) VALUES (?, ?, ?, ?, ?, ?)`,
				s.tokens.Next(), id, field.ID, version, encoded, scopeCol); err != nil {
				return fmt.Errorf("record: append fact %q@%d: %w", field.Name, version, err)
			}
		}
		return nil
	})
}
