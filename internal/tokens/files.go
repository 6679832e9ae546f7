package tokens

import (
	"os"
	"path/filepath"

	"github.com/agentic-research/sift/internal/store"
)

// Store categories.
const (
	CategoryFiles = "token_cache"
	CategoryDiffs = "git_token_cache"
)

// FileSignature identifies a file's content without reading it.
type FileSignature struct {
	MtimeMs int64 `json:"mtime_ms"`
	Size    int64 `json:"size"`
}

// Stat returns the live signature of path. ok is false when the file cannot be
// statted or reports no modification time; such files are never cached.
func Stat(path string) (sig FileSignature, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return FileSignature{}, false
	}
	ms := info.ModTime().UnixMilli()
	if ms <= 0 {
		return FileSignature{}, false
	}
	return FileSignature{MtimeMs: ms, Size: info.Size()}, true
}

// FileCache caches file token counts keyed by absolute path.
type FileCache struct {
	*Cache[FileSignature]
}

// NewFileCache creates a file cache persisting to st.
func NewFileCache(st store.Store) *FileCache {
	return &FileCache{newCache[FileSignature]("file", CategoryFiles, st)}
}

// Get returns the cached count for path if the file is unchanged since it was counted.
func (c *FileCache) Get(path string) (int, bool) {
	sig, ok := Stat(path)
	if !ok {
		return 0, false
	}
	return c.Lookup(filepath.Clean(path), sig)
}

// DiffCache caches diff token counts keyed by root-joined path and validated
// by the diff's content hash.
type DiffCache struct {
	*Cache[string]
}

// NewDiffCache creates a diff cache persisting to st.
func NewDiffCache(st store.Store) *DiffCache {
	return &DiffCache{newCache[string]("diff", CategoryDiffs, st)}
}

// DiffKey returns the cache key of a repository-relative path under root.
func DiffKey(root, path string) string {
	return filepath.Join(root, filepath.FromSlash(path))
}

// Get returns the cached count for the diff of path if its hash is unchanged.
// An empty hash never hits.
func (c *DiffCache) Get(root, path, hash string) (int, bool) {
	if hash == "" {
		return 0, false
	}
	return c.Lookup(DiffKey(root, path), hash)
}
