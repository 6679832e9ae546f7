// Package tokens caches token counts for files and diffs.
//
// Entries live in memory keyed by path and carry the signature they were
// computed for; a lookup only hits when the caller's live signature matches.
// Each root's entries are loaded from the persistent store on first use and
// written back in batches by the background worker.
package tokens

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/internal/logging"
	"github.com/agentic-research/sift/internal/metrics"
	"github.com/agentic-research/sift/internal/store"
)

// Entry is a cached cost and the signature it is valid for.
type Entry[S comparable] struct {
	Sig  S   `json:"sig"`
	Cost int `json:"cost"`
}

// Record is one entry queued for persistence. Key is the in-memory key.
type Record[S comparable] struct {
	Key  string
	Sig  S
	Cost int
}

// Cache is a signature-validated cost cache backed by a store category.
type Cache[S comparable] struct {
	name     string
	category string
	store    store.Store
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[string]Entry[S]

	loadedMu sync.Mutex
	loaded   map[string]struct{}

	// persistMu serializes read-merge-write of a root's persisted map.
	persistMu sync.Mutex
}

func newCache[S comparable](name, category string, st store.Store) *Cache[S] {
	return &Cache[S]{
		name:     name,
		category: category,
		store:    st,
		log:      logging.Named("tokens").With(zap.String("cache", name)),
		entries:  make(map[string]Entry[S]),
		loaded:   make(map[string]struct{}),
	}
}

// Lookup returns the cost for key when its stored signature equals live.
func (c *Cache[S]) Lookup(key string, live S) (int, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	hit := ok && e.Sig == live
	metrics.RecordCostLookup(c.name, hit)
	if !hit {
		return 0, false
	}
	return e.Cost, true
}

// Set stores a cost in memory only; persistence goes through SaveBatch.
func (c *Cache[S]) Set(key string, sig S, cost int) {
	c.mu.Lock()
	c.entries[key] = Entry[S]{Sig: sig, Cost: cost}
	c.mu.Unlock()
}

// Len returns the number of in-memory entries.
func (c *Cache[S]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EnsureLoaded merges root's persisted entries into memory the first time it
// is called for root. The root is marked loaded even if the store fails.
func (c *Cache[S]) EnsureLoaded(root string) {
	root = filepath.Clean(root)
	c.loadedMu.Lock()
	defer c.loadedMu.Unlock()
	if _, ok := c.loaded[root]; ok {
		return
	}
	c.loaded[root] = struct{}{}

	persisted, err := c.readPersisted(root)
	if err != nil {
		c.log.Warn("load cost cache", zap.String("root", root), zap.Error(err))
		metrics.RecordStoreFailure(c.category, "load")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for rel, e := range persisted {
		key := absKey(root, rel)
		if _, ok := c.entries[key]; !ok {
			c.entries[key] = e
		}
	}
	c.log.Debug("cost cache loaded", zap.String("root", root), zap.Int("entries", len(persisted)))
}

// SaveBatch merges batch into root's persisted map and saves the store.
// Failures are logged and otherwise ignored.
func (c *Cache[S]) SaveBatch(root string, batch []Record[S]) {
	if len(batch) == 0 {
		return
	}
	root = filepath.Clean(root)

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	persisted, err := c.readPersisted(root)
	if err != nil {
		c.log.Warn("read persisted costs, starting fresh", zap.String("root", root), zap.Error(err))
		persisted = nil
	}
	if persisted == nil {
		persisted = make(map[string]Entry[S], len(batch))
	}
	for _, r := range batch {
		persisted[relKey(root, r.Key)] = Entry[S]{Sig: r.Sig, Cost: r.Cost}
	}

	raw, err := json.Marshal(persisted)
	if err == nil {
		err = c.store.Set(c.category, root, raw)
	}
	if err == nil {
		err = c.store.Save()
	}
	if err != nil {
		c.log.Warn("save cost cache", zap.String("root", root), zap.Error(err))
		metrics.RecordStoreFailure(c.category, "save")
	}
}

func (c *Cache[S]) readPersisted(root string) (map[string]Entry[S], error) {
	raw, ok, err := c.store.Get(c.category, root)
	if err != nil || !ok {
		return nil, err
	}
	var m map[string]Entry[S]
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// relKey stores keys under root relative to it; anything else stays as is.
func relKey(root, key string) string {
	rel, err := filepath.Rel(root, key)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return key
	}
	return filepath.ToSlash(rel)
}

func absKey(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}
