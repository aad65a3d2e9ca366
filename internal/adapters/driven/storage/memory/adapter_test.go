package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-data/storekit/internal/core/domain"
)

// setupAdapter creates a connected in-memory adapter.
func setupAdapter(t *testing.T) *Adapter {
	t.Helper()

	a := New(domain.StorageConfig{Type: domain.BackendMemory})
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := New(domain.StorageConfig{Type: domain.BackendMemory})

	// Uninitialized: data operations fail with a connection error.
	_, err := a.Retrieve(ctx, "users", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)

	require.NoError(t, a.Connect(ctx))
	// Connect is idempotent while connected.
	require.NoError(t, a.Connect(ctx))

	require.NoError(t, a.Close())
	// Close is idempotent.
	require.NoError(t, a.Close())

	// Closed is terminal: no re-open, no operations.
	err = a.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)

	err = a.Store(ctx, "users", "u1", map[string]any{"a": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestAdapter_RoundTrip(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	value := map[string]any{"name": "Alice", "age": 25}
	require.NoError(t, a.Store(ctx, "users", "u1", value))

	got, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, float64(25), got["age"])
}

func TestAdapter_Retrieve_NotFound(t *testing.T) {
	a := setupAdapter(t)

	_, err := a.Retrieve(context.Background(), "users", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_Store_FullReplace(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice", "age": 25}))
	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Bob"}))

	got, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bob", got["name"])
	// Full replace, never a partial merge.
	assert.NotContains(t, got, "age")
}

func TestAdapter_Update_MissingKey(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	err := a.Update(ctx, "users", "ghost", map[string]any{"name": "Nobody"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice", "age": 25}))
	require.NoError(t, a.Update(ctx, "users", "u1", map[string]any{"name": "Alicia"}))

	got, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got["name"])
	assert.NotContains(t, got, "age")
}

func TestAdapter_Delete_Idempotent(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice"}))

	removed, err := a.Delete(ctx, "users", "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = a.Delete(ctx, "users", "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	exists, err := a.Exists(ctx, "users", "u1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAdapter_Delete_OtherCollectionsUntouched(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"n": 1}))
	require.NoError(t, a.Store(ctx, "sessions", "u1", map[string]any{"n": 2}))

	_, err := a.Delete(ctx, "users", "u1")
	require.NoError(t, err)

	exists, err := a.Exists(ctx, "sessions", "u1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAdapter_ListKeys_Sorted(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	for _, key := range []string{"z", "a", "m"} {
		require.NoError(t, a.Store(ctx, "letters", key, map[string]any{"key": key}))
	}

	keys, err := a.ListKeys(ctx, "letters")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "z"}, keys)
}

func TestAdapter_ListKeys_EmptyCollection(t *testing.T) {
	a := setupAdapter(t)

	keys, err := a.ListKeys(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAdapter_Query_ExactMatch(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice", "age": 25}))
	require.NoError(t, a.Store(ctx, "users", "u2", map[string]any{"name": "Bob", "age": 25}))
	require.NoError(t, a.Store(ctx, "users", "u3", map[string]any{"name": "Alice", "age": 30}))

	results, err := a.Query(ctx, "users", map[string]any{"name": "Alice"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = a.Query(ctx, "users", map[string]any{"name": "Alice", "age": 25})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float64(25), results[0]["age"])

	// No substring semantics.
	results, err = a.Query(ctx, "users", map[string]any{"name": "Ali"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAdapter_Isolation_StoredValue(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	value := map[string]any{"name": "Alice", "nested": map[string]any{"city": "Berlin"}}
	require.NoError(t, a.Store(ctx, "users", "u1", value))

	// Mutating the caller's map after Store must not change the stored value.
	value["name"] = "Mallory"
	value["nested"].(map[string]any)["city"] = "Nowhere"

	got, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, "Berlin", got["nested"].(map[string]any)["city"])
}

func TestAdapter_Isolation_RetrievedValue(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice"}))

	got, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	got["name"] = "Mallory"

	again, err := a.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again["name"])
}

func TestAdapter_BulkStore_Independence(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	items := []domain.BulkItem{
		{Key: "a", Value: map[string]any{"n": 1}},
		{Key: "bad/key", Value: map[string]any{"n": 2}},
		{Key: "b", Value: map[string]any{"n": 3}},
	}

	result, err := a.BulkStore(ctx, "t", items)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)

	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Ok())

	assert.NoError(t, result.Items[0].Err)
	assert.ErrorIs(t, result.Items[1].Err, domain.ErrData)
	assert.NoError(t, result.Items[2].Err)

	got, err := a.Retrieve(ctx, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["n"])

	got, err = a.Retrieve(ctx, "t", "b")
	require.NoError(t, err)
	assert.Equal(t, float64(3), got["n"])
}

func TestAdapter_BulkStore_GeneratesKeys(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	result, err := a.BulkStore(ctx, "t", []domain.BulkItem{{Value: map[string]any{"n": 1}}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.NoError(t, result.Items[0].Err)
	assert.NotEmpty(t, result.Items[0].Key)

	exists, err := a.Exists(ctx, "t", result.Items[0].Key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAdapter_CreateCollection_Idempotent(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.CreateCollection(ctx, "x", nil))
	require.NoError(t, a.CreateCollection(ctx, "x", nil))
}

func TestAdapter_DropCollection(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "tmp", "k", map[string]any{"n": 1}))
	require.NoError(t, a.DropCollection(ctx, "tmp"))

	keys, err := a.ListKeys(ctx, "tmp")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Dropping a missing collection is a no-op.
	require.NoError(t, a.DropCollection(ctx, "never_existed"))
}

func TestAdapter_SnapshotPersistence(t *testing.T) {
	ctx := context.Background()
	snapshot := filepath.Join(t.TempDir(), "snapshot.json")
	cfg := domain.StorageConfig{
		Type:          domain.BackendMemory,
		PersistToFile: true,
		FilePath:      snapshot,
	}

	a := New(cfg)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Store(ctx, "users", "u1", map[string]any{"name": "Alice"}))
	require.NoError(t, a.Close())
	assert.FileExists(t, snapshot)

	// A fresh adapter reloads the snapshot on Connect.
	b := New(cfg)
	require.NoError(t, b.Connect(ctx))
	defer b.Close()

	got, err := b.Retrieve(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
}

func TestAdapter_ConcurrentAccess(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				_ = a.Store(ctx, "c", key, map[string]any{"j": j})
				_, _ = a.Retrieve(ctx, "c", key)
				_, _ = a.ListKeys(ctx, "c")
			}
		}(i)
	}
	wg.Wait()

	keys, err := a.ListKeys(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}
