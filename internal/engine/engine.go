// Package engine wires the tree index, search, selection, cost caches and
// background workers into the commands the UI calls.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/graph"
	"github.com/agentic-research/sift/internal/logging"
	"github.com/agentic-research/sift/internal/search"
	"github.com/agentic-research/sift/internal/selection"
	"github.com/agentic-research/sift/internal/store"
	"github.com/agentic-research/sift/internal/tokens"
	"github.com/agentic-research/sift/internal/vcs"
	"github.com/agentic-research/sift/internal/watch"
	"github.com/agentic-research/sift/internal/worker"
)

// VCS reports working tree changes.
type VCS interface {
	Status(ctx context.Context, root string) (*vcs.Status, error)
}

// Options configures an Engine. Zero values pick defaults.
type Options struct {
	Lister         graph.Lister
	VCS            VCS
	Store          store.Store
	Counter        tokens.Counter
	Sink           events.Sink
	Workers        int
	BatchSize      int
	IndexCacheSize int
	Debounce       time.Duration
	// Home is abbreviated to ~ in pretty paths; empty means the user's home.
	Home string
	Log  *zap.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	index   *graph.IndexCache
	files   *tokens.FileCache
	diffs   *tokens.DiffCache
	pool    *worker.Pool
	vcs     VCS
	sink    events.Sink
	watches *watch.Registry
	store   store.Store
	fileRun *worker.FileTokens
	gitRun  *worker.GitTokens
	home    string
	log     *zap.Logger

	// ctx bounds work started by the watcher.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an engine. Lister and Store are required.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logging.Named("engine")
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Approx{}
	}
	if opts.VCS == nil {
		opts.VCS = vcs.New(0)
	}
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	if opts.Home == "" {
		opts.Home, _ = os.UserHomeDir()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		index:   graph.NewIndexCache(opts.Lister, opts.IndexCacheSize),
		files:   tokens.NewFileCache(opts.Store),
		diffs:   tokens.NewDiffCache(opts.Store),
		pool:    worker.NewPool(opts.Workers),
		vcs:     opts.VCS,
		sink:    opts.Sink,
		watches: watch.NewRegistry(opts.Debounce),
		store:   opts.Store,
		home:    filepath.Clean(opts.Home),
		log:     opts.Log,
		ctx:     ctx,
		cancel:  cancel,
	}
	e.fileRun = &worker.FileTokens{
		Cache:     e.files,
		Counter:   opts.Counter,
		Sink:      opts.Sink,
		BatchSize: opts.BatchSize,
		Log:       opts.Log.Named("files"),
	}
	e.gitRun = &worker.GitTokens{
		Cache:     e.diffs,
		Counter:   opts.Counter,
		Sink:      opts.Sink,
		BatchSize: opts.BatchSize,
		Log:       opts.Log.Named("git"),
	}
	return e
}

// LoadTree returns the tree under root pruned to term. An empty term returns
// the whole tree.
func (e *Engine) LoadTree(ctx context.Context, root, term string) (api.SearchMatch, error) {
	idx, err := e.index.Ensure(ctx, root)
	if err != nil {
		return api.SearchMatch{}, err
	}
	return search.Run(idx, term), nil
}

// ToggleSelection flips target within current and starts counting the
// selected files in the background.
func (e *Engine) ToggleSelection(ctx context.Context, root string, current []string, target string) (*api.SelectionResult, error) {
	idx, err := e.index.Ensure(ctx, root)
	if err != nil {
		return nil, err
	}
	st := selection.Toggle(idx, current, target)
	if _, ok := idx.Lookup(target); !ok {
		e.log.Debug("toggle of unknown node", zap.String("root", idx.Root()), zap.String("node", target))
	}
	return e.project(idx.Root(), st), nil
}

// ClearSelection empties the selection. The worker still runs so the UI gets
// a final zero-total event.
func (e *Engine) ClearSelection(ctx context.Context, root string) (*api.SelectionResult, error) {
	idx, err := e.index.Ensure(ctx, root)
	if err != nil {
		return nil, err
	}
	return e.project(idx.Root(), selection.Clear(idx)), nil
}

func (e *Engine) project(root string, st *selection.State) *api.SelectionResult {
	e.files.EnsureLoaded(root)

	nodes := st.Files()
	ids := make([]string, 0, len(nodes))
	summaries := make([]api.FileNode, 0, len(nodes))
	for _, n := range nodes {
		fn := api.FileNode{Path: n.ID, Title: n.Title, PrettyPath: e.PrettyPath(n.ID)}
		if cost, ok := e.files.Get(n.ID); ok {
			fn.TokenCount = &cost
		}
		summaries = append(summaries, fn)
		ids = append(ids, n.ID)
	}

	e.pool.Submit("files:"+root, func(ctx context.Context, superseded func() bool) {
		e.fileRun.Run(ctx, root, ids, superseded)
	})

	return &api.SelectionResult{
		SelectedNodesPaths:      st.Selected(),
		IndeterminateNodesPaths: st.Indeterminate(),
		SelectedFiles:           summaries,
	}
}

// GitStatus lists the changes of the repository containing root with cached
// diff token counts. Diffs without a valid cached count are counted in the
// background. It returns nil when root is not inside a repository.
func (e *Engine) GitStatus(ctx context.Context, root string) (*api.GitStatusResults, error) {
	root = filepath.Clean(root)
	res, repo, items, ok := e.gitStatus(ctx, root)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	e.submitGit(root, repo, items)
	return res, nil
}

// gitStatus also returns the repository root, which keys the diff cache
// because change paths are relative to it.
func (e *Engine) gitStatus(ctx context.Context, root string) (*api.GitStatusResults, string, []worker.DiffItem, bool) {
	st, err := e.vcs.Status(ctx, root)
	if err != nil {
		e.log.Warn("git status failed", zap.String("root", root), zap.Error(err))
		return &api.GitStatusResults{Results: []api.GitChange{}}, root, nil, true
	}
	if st.NotARepo {
		return nil, "", nil, false
	}

	repo := st.RepoRoot
	if repo == "" {
		repo = root
	}
	e.diffs.EnsureLoaded(repo)
	res := &api.GitStatusResults{Results: make([]api.GitChange, 0, len(st.Changes)), Truncated: st.Truncated}
	var items []worker.DiffItem
	for _, c := range st.Changes {
		gc := api.GitChange{
			Path:         c.Path,
			ChangeType:   c.ChangeType,
			LinesAdded:   c.LinesAdded,
			LinesDeleted: c.LinesDeleted,
		}
		if c.Hash != "" {
			if cost, ok := e.diffs.Get(repo, c.Path, c.Hash); ok {
				gc.TokenCount = &cost
			} else {
				items = append(items, worker.DiffItem{Path: c.Path, Diff: c.Diff, Hash: c.Hash})
			}
		}
		res.Results = append(res.Results, gc)
	}
	return res, repo, items, true
}

func (e *Engine) submitGit(root, repo string, items []worker.DiffItem) {
	if len(items) == 0 {
		return
	}
	e.pool.Submit("git:"+root, func(ctx context.Context, superseded func() bool) {
		e.gitRun.Run(ctx, root, repo, items, superseded)
	})
}

// Watch starts a debounced watcher on root. Each burst of changes drops the
// cached tree index, emits git-status-updated and counts new diffs. Watching
// an already watched root is a no-op.
func (e *Engine) Watch(root string) (bool, error) {
	return e.watches.Ensure(root, e.changed)
}

// Unwatch stops the watcher on root.
func (e *Engine) Unwatch(root string) bool {
	return e.watches.Stop(root)
}

func (e *Engine) changed(root string) {
	e.index.Invalidate(root)
	res, repo, items, ok := e.gitStatus(e.ctx, root)
	if !ok || e.ctx.Err() != nil {
		return
	}
	e.sink.Emit(api.EventGitStatusUpdated, api.GitStatusEvent{Root: root, Changes: res.Results})
	e.submitGit(root, repo, items)
}

// InvalidateTree drops the cached index for root; the next call rebuilds it.
func (e *Engine) InvalidateTree(root string) {
	e.index.Invalidate(root)
}

// PrettyPath abbreviates the home directory to ~.
func (e *Engine) PrettyPath(path string) string {
	if e.home == "" || e.home == "." {
		return path
	}
	if path == e.home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(path, e.home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rel
	}
	return path
}

// Wait blocks until no background work is queued or running.
func (e *Engine) Wait() {
	e.pool.Wait()
}

// Close stops watchers and workers, then closes the store.
func (e *Engine) Close() error {
	e.cancel()
	e.watches.Close()
	e.pool.Close()
	return e.store.Close()
}
