package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"u1", "user-42", "a.b.c", "UPPER", "with spaces"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), "key %q should be valid", key)
	}

	invalid := []string{"", ".", "..", ".hidden", "bad/key", "bad\\key", "nul\x00byte"}
	for _, key := range invalid {
		err := ValidateKey(key)
		require.Error(t, err, "key %q should be invalid", key)
		assert.ErrorIs(t, err, ErrData)
	}
}

func TestValidateCollection(t *testing.T) {
	assert.NoError(t, ValidateCollection("users"))
	assert.NoError(t, ValidateCollection("document_chunks"))

	err := ValidateCollection("a/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrData)
}

func TestCopyValue_Isolation(t *testing.T) {
	original := map[string]any{
		"name": "Alice",
		"tags": []any{"a", "b"},
		"address": map[string]any{
			"city": "Berlin",
		},
	}

	copied, err := CopyValue(original)
	require.NoError(t, err)

	// Mutating the original must not reach the copy.
	original["name"] = "Bob"
	original["address"].(map[string]any)["city"] = "Munich"

	assert.Equal(t, "Alice", copied["name"])
	assert.Equal(t, "Berlin", copied["address"].(map[string]any)["city"])
}

func TestCopyValue_NormalisesNumbers(t *testing.T) {
	copied, err := CopyValue(map[string]any{"age": 25})
	require.NoError(t, err)
	assert.Equal(t, float64(25), copied["age"])
}

func TestCopyValue_NilValue(t *testing.T) {
	copied, err := CopyValue(nil)
	require.NoError(t, err)
	assert.NotNil(t, copied)
	assert.Empty(t, copied)
}

func TestCopyValue_Unserializable(t *testing.T) {
	_, err := CopyValue(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrData)
}

func TestMatches_ExactOnly(t *testing.T) {
	value := map[string]any{"name": "Alice", "age": float64(25), "city": "Berlin"}

	assert.True(t, Matches(value, map[string]any{"name": "Alice"}))
	assert.True(t, Matches(value, map[string]any{"name": "Alice", "age": 25}))
	assert.True(t, Matches(value, map[string]any{}))

	// No substring semantics.
	assert.False(t, Matches(value, map[string]any{"name": "Ali"}))
	// Missing field never matches.
	assert.False(t, Matches(value, map[string]any{"country": "DE"}))
	// Wrong value never matches.
	assert.False(t, Matches(value, map[string]any{"age": 30}))
}

func TestMatches_NumericNormalisation(t *testing.T) {
	// Stored values come back from JSON as float64; int filters must still
	// match them.
	value := map[string]any{"count": float64(3)}
	assert.True(t, Matches(value, map[string]any{"count": 3}))
	assert.True(t, Matches(value, map[string]any{"count": int64(3)}))
	assert.False(t, Matches(value, map[string]any{"count": 4}))
}
