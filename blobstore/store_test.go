package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreLifecycle(t *testing.T, store Store) {
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "best_F_16shots.pt", []byte("v1")))
	require.NoError(t, store.Put(ctx, "snapshots/best_F_16shots-e1.pt.zst", []byte("s1")))
	require.NoError(t, store.Put(ctx, "snapshots/best_F_16shots-e3.pt.zst", []byte("s3")))

	// Overwrite replaces the previous contents.
	require.NoError(t, store.Put(ctx, "best_F_16shots.pt", []byte("v2")))
	data, err := store.Get(ctx, "best_F_16shots.pt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/best_F_16shots-e1.pt.zst", "snapshots/best_F_16shots-e3.pt.zst"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Delete(ctx, "best_F_16shots.pt"))
	require.NoError(t, store.Delete(ctx, "best_F_16shots.pt"), "deleting twice is fine")

	_, err = store.Get(ctx, "best_F_16shots.pt")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestLocalStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestLocalStore_PutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	require.NoError(t, store.Put(context.Background(), "a/b.bin", []byte("payload")))

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.bin", entries[0].Name())
	assert.Equal(t, filepath.Join(dir, "a", "b.bin"), store.Path("a/b.bin"))
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte("abc")))

	data, _ := store.Get(ctx, "k")
	data[0] = 'x'

	again, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
