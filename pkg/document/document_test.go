package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tributary/pkg/document"
)

func TestDecodeEncode(t *testing.T) {
	doc, err := document.Decode([]byte(`{"type":"pageview","count":3,"nested":{"a":true}}`))
	require.NoError(t, err)
	assert.True(t, doc.Has("type"))
	assert.True(t, doc.Has("nested"))

	_, err = document.Decode([]byte(`{"broken"`))
	assert.Error(t, err)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := document.Document{"b": "2", "a": "1", "c": float64(3)}
	b := document.Document{"c": float64(3), "a": "1", "b": "2"}

	rawA, err := a.Encode()
	require.NoError(t, err)
	rawB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB, "key order must not affect the encoding")
}

func TestTypedAccessors(t *testing.T) {
	doc := document.Document{
		"name":    "checkout",
		"count":   float64(3),
		"ratio":   1.5,
		"enabled": true,
		"at":      "2026-03-01T12:00:00Z",
	}

	name, err := doc.String("name")
	require.NoError(t, err)
	assert.Equal(t, "checkout", name)

	count, err := doc.Int("count")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = doc.Int("ratio")
	assert.ErrorIs(t, err, document.ErrFieldType)

	enabled, err := doc.Bool("enabled")
	require.NoError(t, err)
	assert.True(t, enabled)

	at, err := doc.Time("at")
	require.NoError(t, err)
	assert.Equal(t, 2026, at.Year())

	_, err = doc.String("missing")
	assert.ErrorIs(t, err, document.ErrFieldMissing)
	_, err = doc.String("count")
	assert.ErrorIs(t, err, document.ErrFieldType)
	_, err = doc.Time("name")
	assert.ErrorIs(t, err, document.ErrFieldType)
}

func TestCloneDoesNotAliasTopLevel(t *testing.T) {
	doc := document.Document{"a": "1"}
	clone := doc.Clone()
	clone["b"] = "2"

	assert.False(t, doc.Has("b"))
	assert.True(t, clone.Has("a"))
}
