package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyhagemann/stratum/internal/eav"
	"github.com/boyhagemann/stratum/internal/query"
)

func productEntity() *eav.Entity {
	return eav.NewEntity("uuid-product", "product", 2, []eav.Field{
		{UUID: "uuid-name", ID: "name", Version: 1, Entity: "product", Name: "name", Order: 1, Type: eav.TypeString, Required: true},
		{UUID: "uuid-price", ID: "price", Version: 1, Entity: "product", Name: "price", Order: 2, Type: eav.TypeFloat},
		{UUID: "uuid-stock", ID: "stock", Version: 2, Entity: "product", Name: "stock", Order: 3, Type: eav.TypeInteger},
		{UUID: "uuid-tags", ID: "tags", Version: 1, Entity: "product", Name: "tags", Order: 4, Type: eav.TypeJSON, Collection: true},
	})
}

func TestCompile_Unfiltered(t *testing.T) {
	c := New(productEntity())

	sql, params, err := c.Compile(query.Filter{}, query.Options{})
	require.NoError(t, err)

	// Column shape: identity, resolved version, one column per field in
	// declared order.
	assert.True(t, strings.HasPrefix(sql, "SELECT r.id AS _id, "))
	assert.Contains(t, sql, ` AS "name"`)
	assert.Contains(t, sql, ` AS "price"`)
	assert.Contains(t, sql, ` AS "stock"`)
	assert.Contains(t, sql, ` AS "tags"`)
	assert.Less(t, strings.Index(sql, `"name"`), strings.Index(sql, `"price"`))

	assert.Contains(t, sql, "FROM record_header r WHERE r.entity = ?")
	// Deleted records are filtered out at the resolved bound.
	assert.Contains(t, sql, "h.deleted")
	assert.Contains(t, sql, "= 0")

	// Deterministic ordering is mandatory, even without an explicit order.
	assert.Contains(t, sql, "ORDER BY r.id COLLATE BINARY ASC")

	// Without a version bound, lookups are unbounded.
	assert.NotContains(t, sql, "v.version <=")
	assert.NotContains(t, sql, "h.version <=")

	// entity id plus one field-id param per value subquery
	assert.Equal(t, []any{"name", "price", "stock", "tags", "product"}, params[:5])
}

func TestCompile_VersionBound(t *testing.T) {
	c := New(productEntity())

	sql, params, err := c.Compile(query.Filter{}, query.Options{Version: 3})
	require.NoError(t, err)

	assert.Contains(t, sql, "v.version <= ?")
	assert.Contains(t, sql, "h.version <= ?")
	assert.Contains(t, params, int64(3))
}

func TestCompile_Compare(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: "name", Op: query.OpEq, Value: eav.String("Wine")},
	}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	assert.Contains(t, sql, "= ?")
	// Parameterized: the literal never appears in the SQL text.
	assert.NotContains(t, sql, "Wine")
	assert.Contains(t, params, "Wine")
}

func TestCompile_NumericCompare(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: "price", Op: query.OpGt, Value: eav.Float(9.5)},
		query.Compare{Field: "stock", Op: query.OpLte, Value: eav.Int(10)},
	}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	// Numeric fields compare as numbers, not as encoded text.
	assert.Contains(t, sql, "CAST(")
	assert.Contains(t, sql, "AS NUMERIC) > ?")
	assert.Contains(t, sql, "AS NUMERIC) <= ?")
	assert.Contains(t, params, 9.5)
	assert.Contains(t, params, int64(10))
}

func TestCompile_In(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: "name", Op: query.OpIn, Value: eav.Array{eav.String("a"), eav.String("b")}},
	}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	assert.Contains(t, sql, "IN (?, ?)")
	assert.Contains(t, params, "a")
	assert.Contains(t, params, "b")
}

func TestCompile_IDIn(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{query.IDIn{IDs: []string{"1", "2", "3"}}}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	assert.Contains(t, sql, "r.id IN (?, ?, ?)")
	assert.Subset(t, params, []any{"1", "2", "3"})
}

func TestCompile_IdentityCompare(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: query.IDField, Op: query.OpEq, Value: eav.String("rec-1")},
	}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	// Identity compares directly, without a fact subquery.
	assert.Contains(t, sql, "r.id = ?")
	assert.Contains(t, params, "rec-1")
}

func TestCompile_Contains(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Contains{Field: "tags", Value: eav.String("sale")},
	}}
	sql, params, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM json_each(")
	assert.Contains(t, sql, "je.value = json_extract(?, '$')")
	assert.Contains(t, params, `"sale"`)
}

func TestCompile_ContainsPath(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Contains{Field: "tags", Path: "labels", Value: eav.String("sale")},
	}}
	sql, _, err := c.Compile(f, query.Options{})
	require.NoError(t, err)
	assert.Contains(t, sql, "'$.labels'")

	f = query.Filter{And: []query.Cond{
		query.Contains{Field: "tags", Path: "x' --", Value: eav.String("sale")},
	}}
	_, _, err = c.Compile(f, query.Options{})
	assert.Error(t, err)
}

func TestCompile_ContainsRequiresJSONField(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Contains{Field: "name", Value: eav.String("x")},
	}}
	_, _, err := c.Compile(f, query.Options{})
	assert.Error(t, err)
}

func TestCompile_OrGroup(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{
		And: []query.Cond{query.Compare{Field: "name", Op: query.OpEq, Value: eav.String("a")}},
		Or: []query.Cond{
			query.Compare{Field: "stock", Op: query.OpEq, Value: eav.Int(0)},
			query.Compare{Field: "stock", Op: query.OpEq, Value: eav.Int(1)},
		},
	}
	sql, _, err := c.Compile(f, query.Options{})
	require.NoError(t, err)

	// Or group is parenthesized and conjoined with the And group.
	assert.Contains(t, sql, " OR ")
	assert.Regexp(t, `AND \(.+ OR .+\)`, sql)
}

func TestCompile_Conditions(t *testing.T) {
	c := New(productEntity())

	sql, params, err := c.Compile(query.Filter{}, query.Options{
		Conditions: eav.Conditions{"lang": "nl"},
	})
	require.NoError(t, err)

	// With a caller context every lookup prefers the matching overlay and
	// falls back to the context-free partition.
	assert.Contains(t, sql, "COALESCE((")
	assert.Contains(t, sql, "v.conditions IS NOT NULL")
	assert.Contains(t, sql, "v.conditions IS NULL")
	assert.Contains(t, sql, "json_each(v.conditions)")
	assert.Contains(t, params, `{"lang":"nl"}`)
}

func TestCompile_NoConditionsNoCoalesce(t *testing.T) {
	c := New(productEntity())

	sql, _, err := c.Compile(query.Filter{}, query.Options{})
	require.NoError(t, err)
	assert.NotContains(t, sql, "COALESCE")
}

func TestCompile_Order(t *testing.T) {
	c := New(productEntity())

	sql, _, err := c.Compile(query.Filter{}, query.Options{Order: "price", Direction: query.Desc})
	require.NoError(t, err)

	// Field ordering still carries the identity tiebreaker.
	assert.Contains(t, sql, " DESC, r.id COLLATE BINARY ASC")

	_, _, err = c.Compile(query.Filter{}, query.Options{Order: "nope"})
	assert.Error(t, err)
}

func TestCompile_Limit(t *testing.T) {
	c := New(productEntity())

	sql, params, err := c.Compile(query.Filter{}, query.Options{Limit: 5})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "LIMIT ?"))
	assert.Equal(t, 5, params[len(params)-1])
}

func TestCompile_UnknownField(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: "ghost", Op: query.OpEq, Value: eav.String("x")},
	}}
	_, _, err := c.Compile(f, query.Options{})
	assert.Error(t, err)
}

func TestCompile_ParamOrderMatchesText(t *testing.T) {
	c := New(productEntity())

	f := query.Filter{And: []query.Cond{
		query.Compare{Field: "name", Op: query.OpEq, Value: eav.String("Wine")},
	}}
	sql, params, err := c.Compile(f, query.Options{Version: 7, Limit: 2})
	require.NoError(t, err)

	// Params appear in SQL text order: placeholder count must match.
	assert.Equal(t, strings.Count(sql, "?"), len(params))
	assert.Equal(t, 2, params[len(params)-1])
}
