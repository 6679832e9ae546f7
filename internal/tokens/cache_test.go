package tokens

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/sift/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileCache_HitRequiresMatchingSignature(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	writeFile(t, p, "hello world")

	c := NewFileCache(store.NewMemory())
	_, ok := c.Get(p)
	assert.False(t, ok)

	sig, ok := Stat(p)
	require.True(t, ok)
	c.Set(p, sig, 42)

	got, ok := c.Get(p)
	require.True(t, ok)
	assert.Equal(t, 42, got)

	// Touching the file changes mtime: recomputation is forced.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	_, ok = c.Get(p)
	assert.False(t, ok)

	// Same mtime, different size: also a miss.
	sig, _ = Stat(p)
	c.Set(p, sig, 42)
	writeFile(t, p, "hello world, longer now")
	require.NoError(t, os.Chtimes(p, later, later))
	_, ok = c.Get(p)
	assert.False(t, ok)
}

func TestFileCache_MissingFileMisses(t *testing.T) {
	c := NewFileCache(store.NewMemory())
	p := filepath.Join(t.TempDir(), "gone.txt")
	c.Set(p, FileSignature{MtimeMs: 1, Size: 1}, 5)
	_, ok := c.Get(p)
	assert.False(t, ok)
}

func TestCache_SaveBatchAndReload(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "src", "main.go")
	writeFile(t, p, "package main")
	sig, _ := Stat(p)

	st := store.NewMemory()
	c := NewFileCache(st)
	c.Set(p, sig, 3)
	c.SaveBatch(dir, []Record[FileSignature]{{Key: p, Sig: sig, Cost: 3}})

	raw, ok, err := st.Get(CategoryFiles, dir)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted map[string]Entry[FileSignature]
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, 3, persisted["src/main.go"].Cost, "persisted keys are relative to the root")

	// A fresh process sees the entry after loading the root.
	fresh := NewFileCache(st)
	_, ok = fresh.Get(p)
	assert.False(t, ok)
	fresh.EnsureLoaded(dir)
	got, ok := fresh.Get(p)
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestCache_SaveBatchMerges(t *testing.T) {
	st := store.NewMemory()
	c := NewDiffCache(st)
	c.SaveBatch("/repo", []Record[string]{{Key: DiffKey("/repo", "a.go"), Sig: "h1", Cost: 1}})
	c.SaveBatch("/repo", []Record[string]{{Key: DiffKey("/repo", "b.go"), Sig: "h2", Cost: 2}})

	fresh := NewDiffCache(st)
	fresh.EnsureLoaded("/repo")
	a, ok := fresh.Get("/repo", "a.go", "h1")
	require.True(t, ok)
	assert.Equal(t, 1, a)
	b, ok := fresh.Get("/repo", "b.go", "h2")
	require.True(t, ok)
	assert.Equal(t, 2, b)
	_, ok = fresh.Get("/repo", "b.go", "other")
	assert.False(t, ok)
}

func TestCache_EnsureLoadedOncePerRoot(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.Set(CategoryDiffs, "/repo", json.RawMessage(`{"a.go":{"sig":"h","cost":9}}`)))

	c := NewDiffCache(st)
	c.EnsureLoaded("/repo")
	assert.Equal(t, 1, c.Len())

	require.NoError(t, st.Set(CategoryDiffs, "/repo", json.RawMessage(`{"a.go":{"sig":"h","cost":9},"b.go":{"sig":"x","cost":1}}`)))
	c.EnsureLoaded("/repo/")
	assert.Equal(t, 1, c.Len(), "second load for the same root is a no-op")
}

func TestCache_EnsureLoadedKeepsFresherMemory(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.Set(CategoryDiffs, "/repo", json.RawMessage(`{"a.go":{"sig":"old","cost":1}}`)))

	c := NewDiffCache(st)
	c.Set(DiffKey("/repo", "a.go"), "new", 2)
	c.EnsureLoaded("/repo")

	got, ok := c.Get("/repo", "a.go", "new")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestDiffCache_EmptyHashNeverHits(t *testing.T) {
	c := NewDiffCache(store.NewMemory())
	c.Set(DiffKey("/repo", "a.go"), "", 4)
	_, ok := c.Get("/repo", "a.go", "")
	assert.False(t, ok)
}

type brokenStore struct{ *store.Memory }

func (brokenStore) Get(string, string) (json.RawMessage, bool, error) {
	return nil, false, errors.New("disk on fire")
}
func (brokenStore) Save() error { return errors.New("disk on fire") }

func TestCache_StoreFailuresAreSwallowed(t *testing.T) {
	st := brokenStore{store.NewMemory()}
	c := NewDiffCache(st)

	c.EnsureLoaded("/repo")
	c.SaveBatch("/repo", []Record[string]{{Key: "/repo/a.go", Sig: "h", Cost: 1}})

	// Memory keeps working.
	c.Set("/repo/a.go", "h", 1)
	got, ok := c.Get("/repo", "a.go", "h")
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestRelAbsKey(t *testing.T) {
	assert.Equal(t, "a/b.go", relKey("/r", "/r/a/b.go"))
	assert.Equal(t, "/other/x.go", relKey("/r", "/other/x.go"))
	assert.Equal(t, "/r/a/b.go", absKey("/r", "a/b.go"))
	assert.Equal(t, "/other/x.go", absKey("/r", "/other/x.go"))
}
