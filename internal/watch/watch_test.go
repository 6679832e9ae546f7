package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debounce = 100 * time.Millisecond

type counter struct {
	n    atomic.Int64
	last atomic.Value
}

func (c *counter) fire(root string) {
	c.last.Store(root)
	c.n.Add(1)
}

func (c *counter) waitFor(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.n.Load() >= n }, 5*time.Second, 10*time.Millisecond)
}

func TestRegistry_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(debounce)
	defer r.Close()

	var c counter
	started, err := r.Ensure(dir, c.fire)
	require.NoError(t, err)
	require.True(t, started)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte{byte(i)}, 0o644))
	}
	c.waitFor(t, 1)
	time.Sleep(3 * debounce)

	assert.Equal(t, int64(1), c.n.Load())
	assert.Equal(t, filepath.Clean(dir), c.last.Load())
}

func TestRegistry_EnsureIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(debounce)
	defer r.Close()

	var c counter
	started, err := r.Ensure(dir, c.fire)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = r.Ensure(dir+string(filepath.Separator), c.fire)
	require.NoError(t, err)
	assert.False(t, started)
	assert.True(t, r.Watching(dir))
}

func TestRegistry_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(debounce)
	defer r.Close()

	var c counter
	_, err := r.Ensure(dir, c.fire)
	require.NoError(t, err)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	c.waitFor(t, 1)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("x"), 0o644))
	c.waitFor(t, 2)
}

func TestRegistry_IgnoresGitObjects(t *testing.T) {
	dir := t.TempDir()
	objects := filepath.Join(dir, ".git", "objects")
	require.NoError(t, os.MkdirAll(objects, 0o755))

	r := NewRegistry(debounce)
	defer r.Close()

	var c counter
	_, err := r.Ensure(dir, c.fire)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(objects, "pack"), []byte("x"), 0o644))
	time.Sleep(3 * debounce)
	assert.Zero(t, c.n.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("x"), 0o644))
	c.waitFor(t, 1)
}

func TestRegistry_Stop(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(debounce)
	defer r.Close()

	var c counter
	_, err := r.Ensure(dir, c.fire)
	require.NoError(t, err)

	assert.True(t, r.Stop(dir))
	assert.False(t, r.Stop(dir))
	assert.False(t, r.Watching(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	time.Sleep(3 * debounce)
	assert.Zero(t, c.n.Load())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry(debounce)

	_, err := r.Ensure(filepath.Join(t.TempDir(), "missing"), func(string) {})
	require.Error(t, err)

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = r.Ensure(f, func(string) {})
	require.Error(t, err)

	r.Close()
	_, err = r.Ensure(t.TempDir(), func(string) {})
	require.ErrorIs(t, err, ErrClosed)
}
