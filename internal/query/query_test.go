package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyhagemann/stratum/internal/eav"
)

func testEntity() *eav.Entity {
	return eav.NewEntity("uuid-e", "product", 1, []eav.Field{
		{ID: "name", Name: "name", Order: 1, Type: eav.TypeString},
		{ID: "price", Name: "price", Order: 2, Type: eav.TypeFloat},
		{ID: "profile", Name: "profile", Order: 3, Type: eav.TypeJSON},
		{ID: "tags", Name: "tags", Order: 4, Type: eav.TypeString, Collection: true},
	})
}

func TestForEntity_Identity(t *testing.T) {
	e := testEntity()

	cond, err := ForEntity(e, IDField, OpEq, eav.String("r1"))
	require.NoError(t, err)
	assert.Equal(t, Compare{Field: IDField, Op: OpEq, Value: eav.String("r1")}, cond)

	cond, err = ForEntity(e, IDField, OpIn, eav.Array{eav.String("a"), eav.String("b")})
	require.NoError(t, err)
	assert.Equal(t, IDIn{IDs: []string{"a", "b"}}, cond)

	_, err = ForEntity(e, IDField, OpIn, eav.String("not-an-array"))
	assert.Error(t, err)
}

func TestForEntity_Scalar(t *testing.T) {
	e := testEntity()

	cond, err := ForEntity(e, "price", OpGte, eav.Float(10))
	require.NoError(t, err)
	assert.Equal(t, Compare{Field: "price", Op: OpGte, Value: eav.Float(10)}, cond)

	_, err = ForEntity(e, "ghost", OpEq, eav.String("x"))
	var build *BuildError
	require.ErrorAs(t, err, &build)
	assert.Equal(t, "ghost", build.Field)
}

func TestForEntity_Containment(t *testing.T) {
	e := testEntity()

	// json fields compile to containment, with an optional sub-path.
	cond, err := ForEntity(e, "profile", OpEq, eav.String("x"))
	require.NoError(t, err)
	assert.Equal(t, Contains{Field: "profile", Value: eav.String("x")}, cond)

	cond, err = ForEntity(e, "profile.city", OpEq, eav.String("Utrecht"))
	require.NoError(t, err)
	assert.Equal(t, Contains{Field: "profile", Path: "city", Value: eav.String("Utrecht")}, cond)

	// collection fields too, regardless of declared scalar type.
	cond, err = ForEntity(e, "tags", OpEq, eav.String("sale"))
	require.NoError(t, err)
	assert.Equal(t, Contains{Field: "tags", Value: eav.String("sale")}, cond)

	// sub-paths are meaningless on scalar fields.
	_, err = ForEntity(e, "name.sub", OpEq, eav.String("x"))
	assert.Error(t, err)
}

func TestFilterValidate(t *testing.T) {
	valid := Filter{
		And: []Cond{Compare{Field: "name", Op: OpEq, Value: eav.String("x")}},
		Or: []Cond{
			Compare{Field: "price", Op: OpLt, Value: eav.Float(1)},
			IDIn{IDs: []string{"a"}},
		},
	}
	assert.NoError(t, valid.Validate())
	assert.False(t, valid.Empty())
	assert.True(t, Filter{}.Empty())

	tests := []struct {
		name string
		cond Cond
	}{
		{"empty field", Compare{Op: OpEq, Value: eav.String("x")}},
		{"bad operator", Compare{Field: "a", Op: "LIKE", Value: eav.String("x")}},
		{"nil value", Compare{Field: "a", Op: OpEq}},
		{"IN without array", Compare{Field: "a", Op: OpIn, Value: eav.Int(1)}},
		{"empty id set", IDIn{}},
		{"nil cond", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Filter{And: []Cond{tt.cond}}
			assert.Error(t, f.Validate())
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{}.Validate())
	assert.NoError(t, Options{Version: 3, Direction: Desc, Limit: 10}.Validate())

	assert.Error(t, Options{Version: -1}.Validate())
	assert.Error(t, Options{Limit: -1}.Validate())
	assert.Error(t, Options{Direction: "sideways"}.Validate())
}

func TestOpValid(t *testing.T) {
	for _, op := range []Op{OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn} {
		assert.True(t, op.Valid())
	}
	assert.False(t, Op("LIKE").Valid())
}
