package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args against a file backend rooted in
// a temp directory, returning captured stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupBackend(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_TYPE", "file")
	t.Setenv("STORAGE_BASE_PATH", t.TempDir())
}

func TestSetGetRoundTrip(t *testing.T) {
	setupBackend(t)

	out, err := execute(t, "set", "users", "u1", `{"name":"Alice","age":25}`)
	require.NoError(t, err)
	assert.Contains(t, out, "stored users/u1")

	out, err = execute(t, "get", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Alice"`)
}

func TestSet_RejectsNonObject(t *testing.T) {
	setupBackend(t)

	_, err := execute(t, "set", "users", "u1", `"just a string"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")
}

func TestGet_Missing(t *testing.T) {
	setupBackend(t)

	_, err := execute(t, "get", "users", "missing")
	require.Error(t, err)
}

func TestDelAndExists(t *testing.T) {
	setupBackend(t)

	_, err := execute(t, "set", "users", "u1", `{"n":1}`)
	require.NoError(t, err)

	out, err := execute(t, "exists", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "true")

	out, err = execute(t, "del", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted users/u1")

	out, err = execute(t, "del", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")

	out, err = execute(t, "exists", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "false")
}

func TestKeys(t *testing.T) {
	setupBackend(t)

	for _, key := range []string{"z", "a", "m"} {
		_, err := execute(t, "set", "letters", key, `{"n":1}`)
		require.NoError(t, err)
	}

	out, err := execute(t, "keys", "letters")
	require.NoError(t, err)
	assert.Equal(t, "a\nm\nz\n", out)
}

func TestQuery(t *testing.T) {
	setupBackend(t)

	_, err := execute(t, "set", "users", "u1", `{"name":"Alice","age":25}`)
	require.NoError(t, err)
	_, err = execute(t, "set", "users", "u2", `{"name":"Bob","age":25}`)
	require.NoError(t, err)

	out, err := execute(t, "query", "users", "name=Alice", "age=25")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.NotContains(t, out, "Bob")
}

func TestCollectionCreateDrop(t *testing.T) {
	setupBackend(t)

	out, err := execute(t, "collection", "create", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "collection users ready")

	_, err = execute(t, "set", "users", "u1", `{"n":1}`)
	require.NoError(t, err)

	out, err = execute(t, "collection", "drop", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "collection users dropped")

	out, err = execute(t, "keys", "users")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"name=Alice", "age=25", "active=true"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", filters["name"])
	assert.Equal(t, float64(25), filters["age"])
	assert.Equal(t, true, filters["active"])

	_, err = parseFilters([]string{"noequals"})
	require.Error(t, err)

	_, err = parseFilters([]string{"=value"})
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3-test")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3-test")
}
