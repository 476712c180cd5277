package token

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Source(t *testing.T) {
	src := UUIDv7Source{}

	a := src.Next()
	b := src.Next()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestXIDSource(t *testing.T) {
	src := XIDSource{}

	a := src.Next()
	b := src.Next()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 20)
}

func TestFixedSource(t *testing.T) {
	src := NewFixedSource("one", "two")

	assert.Equal(t, "one", src.Next())
	assert.Equal(t, "two", src.Next())
	assert.Panics(t, func() { src.Next() })
}
