package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreRejectsEmptyDir(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}

func TestStoreResolveStaysInsideDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store, err := NewStore(dir)
	require.NoError(t, err)

	for _, name := range []string{"../../etc/passwd", "/etc/passwd", "passwd"} {
		path, err := store.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "passwd"), path)
		assert.Equal(t, dir, filepath.Dir(path))
	}
}

func TestStoreEnsureIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	store, err := NewStore(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Ensure())
	}

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStoreOpenTruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("old contents"), 0o644))

	tr, unlock, err := store.Open("a.txt", 3)
	require.NoError(t, err)
	require.NoError(t, tr.WriteChunk([]byte("new")))
	require.NoError(t, tr.Close())
	unlock()

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.Equal(t, TransferStateCompleted, tr.GetState())
}

func TestStoreOpenInvalidName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Open("..", 0)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Zero(t, store.locks.Len())
}

func TestStoreOpenUsesTimeProvider(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	tp := newMockTimeProvider()
	store.SetTimeProvider(tp)

	tr, unlock, err := store.Open("timed.bin", 0)
	require.NoError(t, err)
	defer unlock()

	assert.Equal(t, tp.Now(), tr.StartTime)
	require.NoError(t, tr.Close())
}
