package record

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
	"github.com/boyhagemann/stratum/internal/store"
	"github.com/boyhagemann/stratum/internal/token"
	"github.com/boyhagemann/stratum/internal/validate"
)

func resourceEntity() *eav.Entity {
	return eav.NewEntity("uuid-resource1", "resource1", 1, []eav.Field{
		{UUID: "uuid-f1", ID: "f-name", Version: 1, Entity: "resource1", Name: "name", Order: 1, Type: eav.TypeString, Required: true},
		{UUID: "uuid-f2", ID: "f-label", Version: 1, Entity: "resource1", Name: "label", Order: 2, Type: eav.TypeString},
	})
}

func testStore(t *testing.T) *Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "record.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(st, validate.RecordFactory{}, token.UUIDv7Source{})
}

func TestLifecycle(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	id, err := s.Insert(ctx, entity, map[string]eav.Value{
		query.IDField: eav.String("id1"),
		"name":        eav.String("test"),
		"label":       eav.String("456"),
	}, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, "id1", id)

	row, err := s.Get(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version)
	assert.Equal(t, eav.String("456"), row.Values["label"])

	// Update appends version 2; only the changed field gets a new fact.
	err = s.Update(ctx, entity, "id1", map[string]eav.Value{"label": eav.String("Updated")}, query.Options{})
	require.NoError(t, err)

	row, err = s.Get(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, eav.String("Updated"), row.Values["label"])
	assert.Equal(t, eav.String("test"), row.Values["name"])

	// Point-in-time: version 1 still shows the original value.
	row, err = s.Get(ctx, entity, "id1", query.Options{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, eav.String("456"), row.Values["label"])

	// Delete appends the tombstone; latest reads miss, pinned reads hit.
	require.NoError(t, s.Delete(ctx, entity, "id1", query.Options{}))

	rows, err := s.Find(ctx, entity, query.Filter{}, query.Options{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Find(ctx, entity, query.Filter{}, query.Options{Version: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, eav.String("Updated"), rows[0].Values["label"])

	_, err = s.Get(ctx, entity, "id1", query.Options{})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestInsert_GeneratedID(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()

	id, err := s.Insert(context.Background(), entity, map[string]eav.Value{
		"name": eav.String("x"),
	}, query.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestInsert_SparseDataGetsPlaceholders(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	id, err := s.Insert(ctx, entity, map[string]eav.Value{"name": eav.String("x")}, query.Options{})
	require.NoError(t, err)

	row, err := s.Get(ctx, entity, id, query.Options{})
	require.NoError(t, err)
	// Rows carry every declared field; unset string fields resolve empty.
	assert.Equal(t, eav.String(""), row.Values["label"])
}

func TestInsert_Invalid(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()

	_, err := s.Insert(context.Background(), entity, map[string]eav.Value{
		"label": eav.String("no name"),
	}, query.Options{})

	var invalid *validate.Invalid
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Messages, "name")
}

func TestInsert_DuplicateID(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	data := map[string]eav.Value{query.IDField: eav.String("id1"), "name": eav.String("x")}
	_, err := s.Insert(ctx, entity, data, query.Options{})
	require.NoError(t, err)

	_, err = s.Insert(ctx, entity, data, query.Options{})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestInsert_TombstonedIDIsTerminal(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	data := map[string]eav.Value{query.IDField: eav.String("id1"), "name": eav.String("x")}
	_, err := s.Insert(ctx, entity, data, query.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, entity, "id1", query.Options{}))

	_, err = s.Insert(ctx, entity, data, query.Options{})
	assert.ErrorIs(t, err, ErrDuplicateID)

	err = s.Upsert(ctx, entity, "id1", map[string]eav.Value{"name": eav.String("y")}, query.Options{})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestUpdate_NoChange(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	_, err := s.Insert(ctx, entity, map[string]eav.Value{
		query.IDField: eav.String("id1"),
		"name":        eav.String("test"),
	}, query.Options{})
	require.NoError(t, err)

	err = s.Update(ctx, entity, "id1", map[string]eav.Value{"name": eav.String("test")}, query.Options{})
	assert.ErrorIs(t, err, ErrRecordNotChanged)

	// The rejected no-op wrote nothing.
	row, err := s.Get(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Version)
}

func TestUpdate_NotFound(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()

	err := s.Update(context.Background(), entity, "ghost", map[string]eav.Value{
		"name": eav.String("x"),
	}, query.Options{})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestUpsert_IdempotentTargetState(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	data := map[string]eav.Value{"name": eav.String("test"), "label": eav.String("a")}

	// First call inserts, second converges without error.
	require.NoError(t, s.Upsert(ctx, entity, "id1", data, query.Options{}))
	require.NoError(t, s.Upsert(ctx, entity, "id1", data, query.Options{}))

	rows, err := s.Find(ctx, entity, query.Filter{}, query.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Version)

	// A different payload updates.
	data["label"] = eav.String("b")
	require.NoError(t, s.Upsert(ctx, entity, "id1", data, query.Options{}))

	row, err := s.Get(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, eav.String("b"), row.Values["label"])
}

func TestConditionOverlayPrecedence(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	_, err := s.Insert(ctx, entity, map[string]eav.Value{
		query.IDField: eav.String("id1"),
		"name":        eav.String("Specsavers"),
	}, query.Options{})
	require.NoError(t, err)

	// An update under a condition context writes an overlay, shadowing the
	// fallback for matching contexts only.
	err = s.Update(ctx, entity, "id1", map[string]eav.Value{
		"name": eav.String("Specsavers NL"),
	}, query.Options{Conditions: eav.Conditions{"lang": "nl"}})
	require.NoError(t, err)

	row, err := s.Get(ctx, entity, "id1", query.Options{Conditions: eav.Conditions{"lang": "nl"}})
	require.NoError(t, err)
	assert.Equal(t, eav.String("Specsavers NL"), row.Values["name"])

	row, err = s.Get(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	assert.Equal(t, eav.String("Specsavers"), row.Values["name"])

	row, err = s.Get(ctx, entity, "id1", query.Options{Conditions: eav.Conditions{"lang": "en"}})
	require.NoError(t, err)
	assert.Equal(t, eav.String("Specsavers"), row.Values["name"])
}

func TestFind_Filtered(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	for _, seed := range []struct{ id, name, label string }{
		{"a", "wine", "red"},
		{"b", "wine", "white"},
		{"c", "beer", "blond"},
	} {
		_, err := s.Insert(ctx, entity, map[string]eav.Value{
			query.IDField: eav.String(seed.id),
			"name":        eav.String(seed.name),
			"label":       eav.String(seed.label),
		}, query.Options{})
		require.NoError(t, err)
	}

	rows, err := s.Find(ctx, entity, query.Filter{
		And: []query.Cond{query.Compare{Field: "f-name", Op: query.OpEq, Value: eav.String("wine")}},
	}, query.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)

	row, err := s.First(ctx, entity, query.Filter{
		And: []query.Cond{query.Compare{Field: "f-name", Op: query.OpEq, Value: eav.String("stout")}},
	}, query.Options{})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUpdateWhere(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, entity, map[string]eav.Value{
			query.IDField: eav.String(id),
			"name":        eav.String("wine"),
			"label":       eav.String(id),
		}, query.Options{})
		require.NoError(t, err)
	}

	// "a" already has label "a"... give it the target value up front so
	// the bulk pass skips it as unchanged.
	require.NoError(t, s.Update(ctx, entity, "a", map[string]eav.Value{
		"label": eav.String("bulk"),
	}, query.Options{}))

	applied, err := s.UpdateWhere(ctx, entity, query.Filter{
		And: []query.Cond{query.Compare{Field: "f-name", Op: query.OpEq, Value: eav.String("wine")}},
	}, map[string]eav.Value{"label": eav.String("bulk")}, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	rows, err := s.Find(ctx, entity, query.Filter{}, query.Options{})
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, eav.String("bulk"), row.Values["label"])
	}
}

func TestDeleteWhere(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		name := "wine"
		if id == "c" {
			name = "beer"
		}
		_, err := s.Insert(ctx, entity, map[string]eav.Value{
			query.IDField: eav.String(id),
			"name":        eav.String(name),
		}, query.Options{})
		require.NoError(t, err)
	}

	applied, err := s.DeleteWhere(ctx, entity, query.Filter{
		And: []query.Cond{query.Compare{Field: "f-name", Op: query.OpEq, Value: eav.String("wine")}},
	}, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	rows, err := s.Find(ctx, entity, query.Filter{}, query.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].ID)
}

func TestVersions(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	_, err := s.Insert(ctx, entity, map[string]eav.Value{
		query.IDField: eav.String("id1"),
		"name":        eav.String("test"),
		"label":       eav.String("456"),
	}, query.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, entity, "id1", map[string]eav.Value{
		"label": eav.String("Updated"),
	}, query.Options{}))
	require.NoError(t, s.Delete(ctx, entity, "id1", query.Options{}))

	revisions, err := s.Versions(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	require.Len(t, revisions, 3)

	assert.Equal(t, int64(1), revisions[0].Version)
	assert.False(t, revisions[0].Deleted)
	assert.Equal(t, eav.String("456"), revisions[0].Values["label"])

	assert.Equal(t, int64(2), revisions[1].Version)
	assert.False(t, revisions[1].Deleted)
	assert.Equal(t, eav.String("Updated"), revisions[1].Values["label"])
	assert.Equal(t, eav.String("test"), revisions[1].Values["name"])

	assert.Equal(t, int64(3), revisions[2].Version)
	assert.True(t, revisions[2].Deleted)

	_, err = s.Versions(ctx, entity, "ghost", query.Options{})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestDiff(t *testing.T) {
	current := map[string]eav.Value{
		"a": eav.String("x"),
		"b": eav.Int(1),
	}
	proposed := map[string]eav.Value{
		"a": eav.String("x"),
		"b": eav.Int(2),
		"c": eav.Bool(true),
	}

	changes := diff(current, proposed)
	assert.Equal(t, map[string]eav.Value{"b": eav.Int(2), "c": eav.Bool(true)}, changes)
	assert.True(t, hasChanges(current, proposed))
	assert.False(t, hasChanges(current, map[string]eav.Value{"a": eav.String("x")}))
}

func TestVersionMonotonicity(t *testing.T) {
	s := testStore(t)
	entity := resourceEntity()
	ctx := context.Background()

	_, err := s.Insert(ctx, entity, map[string]eav.Value{
		query.IDField: eav.String("id1"),
		"name":        eav.String("v"),
		"label":       eav.String("0"),
	}, query.Options{})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Update(ctx, entity, "id1", map[string]eav.Value{
			"label": eav.String(string(rune('0' + i))),
		}, query.Options{}))
	}

	revisions, err := s.Versions(ctx, entity, "id1", query.Options{})
	require.NoError(t, err)
	require.Len(t, revisions, 6)
	for i, rev := range revisions {
		assert.Equal(t, int64(i+1), rev.Version)
	}
}
