package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/docflow/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	store, err := New(root)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNew_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("test"), 0o644))

	store, err := New(file)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Put(ctx, "parsed/f1/100.txt", []byte("hello world"))
	require.NoError(t, err)

	data, err := store.Get(ctx, "parsed/f1/100.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "a.txt", []byte("first")))
	require.NoError(t, store.Put(ctx, "a.txt", []byte("second")))

	data, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp files left behind
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exists, err := store.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "a/b.txt", []byte("x")))

	exists, err = store.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	// A directory is not a blob
	exists, err = store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "a.txt", []byte("x")))
	require.NoError(t, store.Delete(ctx, "a.txt"))

	_, err := store.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting again is not an error
	assert.NoError(t, store.Delete(ctx, "a.txt"))
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Put(ctx, "../escape.txt", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidPath)

	_, err = store.Get(ctx, "/etc/passwd")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
}

func TestStore_Closed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	err := store.Put(context.Background(), "a.txt", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestStore_CanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "a.txt", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
