package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/logging"
	"github.com/agentic-research/sift/internal/metrics"
)

// DefaultCacheSize is the number of roots kept when no size is configured.
const DefaultCacheSize = 64

// Lister lists a directory as a nested tree.
type Lister interface {
	List(ctx context.Context, root string) ([]api.DirectoryNode, error)
}

// BuildError reports that the index for Root could not be built.
type BuildError struct {
	Root string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build index for %s: %v", e.Root, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// IndexCache holds one Index per root. Indexes are immutable, so readers share
// them freely; Invalidate swaps in a fresh build on the next Ensure.
type IndexCache struct {
	lister Lister
	cache  *lru.Cache[string, *Index]
	group  singleflight.Group
	log    *zap.Logger

	// gens counts invalidations per root. A build started under an older
	// generation is returned to its callers but never cached.
	gensMu sync.Mutex
	gens   map[string]uint64
}

// NewIndexCache creates a cache holding at most size roots.
func NewIndexCache(lister Lister, size int) *IndexCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Index](size)
	if err != nil {
		panic(err) // only for size <= 0
	}
	return &IndexCache{
		lister: lister,
		cache:  c,
		log:    logging.Named("index"),
		gens:   make(map[string]uint64),
	}
}

// Ensure returns the index for root, listing and building it on a miss.
// Concurrent misses for the same root share one build. A failed build caches nothing.
func (c *IndexCache) Ensure(ctx context.Context, root string) (*Index, error) {
	root = filepath.Clean(root)
	if idx, ok := c.cache.Get(root); ok {
		metrics.RecordIndexLookup(true)
		return idx, nil
	}
	metrics.RecordIndexLookup(false)

	v, err, _ := c.group.Do(root, func() (any, error) {
		if idx, ok := c.cache.Get(root); ok {
			return idx, nil
		}
		gen := c.generation(root)
		start := time.Now()
		idx, err := c.build(ctx, root)
		metrics.RecordIndexBuild(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if !c.addIfCurrent(root, gen, idx) {
			c.log.Debug("index invalidated during build", zap.String("root", root))
			return idx, nil
		}
		c.log.Debug("index built",
			zap.String("root", root),
			zap.Int("nodes", idx.Len()),
			zap.Duration("took", time.Since(start)))
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

func (c *IndexCache) build(ctx context.Context, root string) (*Index, error) {
	tree, err := c.lister.List(ctx, root)
	if err != nil {
		return nil, &BuildError{Root: root, Err: err}
	}
	idx, err := Build(root, tree)
	if err != nil {
		return nil, &BuildError{Root: root, Err: err}
	}
	return idx, nil
}

// Get returns the cached index for root without building it.
func (c *IndexCache) Get(root string) (*Index, bool) {
	return c.cache.Peek(filepath.Clean(root))
}

// Invalidate drops the cached index for root. A build already in flight
// finishes for its callers but is not cached, and later callers start a new one.
func (c *IndexCache) Invalidate(root string) {
	root = filepath.Clean(root)
	c.gensMu.Lock()
	c.gens[root]++
	c.cache.Remove(root)
	c.gensMu.Unlock()
	c.group.Forget(root)
}

func (c *IndexCache) generation(root string) uint64 {
	c.gensMu.Lock()
	defer c.gensMu.Unlock()
	return c.gens[root]
}

func (c *IndexCache) addIfCurrent(root string, gen uint64, idx *Index) bool {
	c.gensMu.Lock()
	defer c.gensMu.Unlock()
	if c.gens[root] != gen {
		return false
	}
	c.cache.Add(root, idx)
	return true
}

// Len returns the number of cached roots.
func (c *IndexCache) Len() int {
	return c.cache.Len()
}
