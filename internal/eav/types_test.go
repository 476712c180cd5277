package eav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityHandle(t *testing.T) {
	fields := []Field{
		{ID: "b", Name: "beta", Order: 2, Type: TypeString},
		{ID: "a", Name: "alpha", Order: 1, Type: TypeInteger},
		{ID: "c", Name: "gamma", Order: 1, Type: TypeBool},
	}
	entity := NewEntity("uuid-1", "thing", 3, fields)

	// Sorted by order, ties broken by id.
	got := entity.Fields()
	assert.Equal(t, []string{"a", "c", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

	// The handle is immutable: mutating the returned copy changes nothing.
	got[0].Name = "mutated"
	again, ok := entity.FieldByID("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", again.Name)

	byName, ok := entity.FieldByName("gamma")
	require.True(t, ok)
	assert.Equal(t, "c", byName.ID)

	_, ok = entity.FieldByID("ghost")
	assert.False(t, ok)

	assert.Equal(t, "thing@v3", entity.String())
}

func TestFieldTypeValid(t *testing.T) {
	for _, ft := range FieldTypes {
		assert.True(t, ft.Valid())
	}
	assert.False(t, FieldType("decimal").Valid())
}

func TestEncodeDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		value   Value
		ftype   FieldType
		encoded string
	}{
		{"string", String("hello"), TypeString, "hello"},
		{"integer", Int(-42), TypeInteger, "-42"},
		{"float", Float(2.5), TypeFloat, "2.5"},
		{"int as float", Int(3), TypeFloat, "3"},
		{"bool true", Bool(true), TypeBool, "1"},
		{"bool false", Bool(false), TypeBool, "0"},
		{"date", NewDate(2026, 8, 28), TypeDate, "2026-08-28"},
		{"json", Object{"b": Int(2), "a": Int(1)}, TypeJSON, `{"a":1,"b":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := EncodeValue(tt.value, tt.ftype)
			require.NoError(t, err)
			require.NotNil(t, enc)
			assert.Equal(t, tt.encoded, *enc)
		})
	}
}

func TestEncodeValue_Null(t *testing.T) {
	enc, err := EncodeValue(Null{}, TypeString)
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestEncodeValue_TypeMismatch(t *testing.T) {
	_, err := EncodeValue(String("x"), TypeInteger)
	assert.Error(t, err)
	_, err = EncodeValue(Int(1), TypeBool)
	assert.Error(t, err)
}

func TestDecodeValue_Placeholders(t *testing.T) {
	// NULL decodes to each type's placeholder so rows keep every key.
	v, err := DecodeValue(nil, TypeString)
	require.NoError(t, err)
	assert.Equal(t, String(""), v)

	v, err = DecodeValue(nil, TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, Null{}, v)

	v, err = DecodeValue(nil, TypeJSON)
	require.NoError(t, err)
	assert.Equal(t, Null{}, v)
}

func TestDecodeValue_RoundTrip(t *testing.T) {
	values := []struct {
		value Value
		ftype FieldType
	}{
		{String("x"), TypeString},
		{Int(7), TypeInteger},
		{Float(1.25), TypeFloat},
		{Bool(true), TypeBool},
		{NewDate(2026, 1, 2), TypeDate},
		{Array{Int(1), String("a")}, TypeJSON},
	}
	for _, tt := range values {
		enc, err := EncodeValue(tt.value, tt.ftype)
		require.NoError(t, err)
		dec, err := DecodeValue(enc, tt.ftype)
		require.NoError(t, err)
		assert.True(t, Equal(tt.value, dec), "%v round-trips", tt.value)
	}
}

func TestCoerceValue(t *testing.T) {
	v, err := CoerceValue(String("42"), TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)

	v, err = CoerceValue(String("2.5"), TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, Float(2.5), v)

	v, err = CoerceValue(Int(2), TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, Float(2), v)

	v, err = CoerceValue(String("true"), TypeBool)
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	v, err = CoerceValue(String("2026-08-28"), TypeDate)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", v.(Date).Format())

	_, err = CoerceValue(String("nope"), TypeInteger)
	assert.Error(t, err)
	_, err = CoerceValue(Bool(true), TypeString)
	assert.Error(t, err)
}
