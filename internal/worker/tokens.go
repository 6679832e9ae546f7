package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/logging"
	"github.com/agentic-research/sift/internal/metrics"
	"github.com/agentic-research/sift/internal/tokens"
)

// DefaultBatchSize is how many items go into one progress event and one
// persisted cache batch.
const DefaultBatchSize = 25

// SelectionID identifies a set of file ids independent of their order.
func SelectionID(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(sorted, "\x00")))
}

// FileTokens counts the tokens of selected files.
type FileTokens struct {
	Cache     *tokens.FileCache
	Counter   tokens.Counter
	Sink      events.Sink
	BatchSize int
	Log       *zap.Logger
}

func (w *FileTokens) batchSize() int {
	if w.BatchSize < 1 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

func loggerOr(l *zap.Logger) *zap.Logger {
	if l == nil {
		return logging.Named("worker")
	}
	return l
}

// Run counts ids in order, emitting a file-token-counts event every batch and
// a final event with Done set, even when ids is empty. Newly computed counts
// are cached and persisted under root in the same batches.
//
// When superseded reports true or ctx ends, Run persists what it has and
// returns without a final event.
func (w *FileTokens) Run(ctx context.Context, root string, ids []string, superseded func() bool) {
	size := w.batchSize()
	selectionID := SelectionID(ids)
	total := 0
	out := make([]api.TokenCountResult, 0, size)
	var pending []tokens.Record[tokens.FileSignature]

	flush := func(done bool) {
		w.Cache.SaveBatch(root, pending)
		pending = nil
		w.Sink.Emit(api.EventFileTokenCounts, api.TokenCountsEvent{
			SelectionID:     selectionID,
			TotalTokenCount: total,
			Files:           out,
			Done:            done,
		})
		metrics.RecordBatch(api.EventFileTokenCounts)
		out = make([]api.TokenCountResult, 0, size)
	}

	for _, id := range ids {
		if ctx.Err() != nil || superseded() {
			w.Cache.SaveBatch(root, pending)
			metrics.RecordSuperseded("files")
			loggerOr(w.Log).Debug("file token run superseded",
				zap.String("root", root), zap.String("selection", selectionID))
			return
		}

		cost, sig, fresh := w.count(id)
		if fresh {
			pending = append(pending, tokens.Record[tokens.FileSignature]{Key: id, Sig: sig, Cost: cost})
		}
		total += cost
		out = append(out, api.TokenCountResult{ID: id, TokenCount: cost})
		if len(out) >= size {
			flush(false)
		}
	}
	flush(true)
}

// count returns the cost of path and whether it was newly computed and cacheable.
func (w *FileTokens) count(path string) (int, tokens.FileSignature, bool) {
	path = filepath.Clean(path)
	sig, ok := tokens.Stat(path)
	if ok {
		if cost, hit := w.Cache.Lookup(path, sig); hit {
			metrics.RecordWorkerItem("file", "cache")
			return cost, sig, false
		}
	}
	cost := tokens.CountFile(w.Counter, path)
	metrics.RecordWorkerItem("file", "computed")
	if !ok {
		return cost, sig, false
	}
	w.Cache.Set(path, sig, cost)
	return cost, sig, true
}

// DiffItem is one changed path whose diff needs counting.
type DiffItem struct {
	Path string // repository-relative
	Diff []byte
	Hash string
}

// GitTokens counts the tokens of working-tree diffs.
type GitTokens struct {
	Cache     *tokens.DiffCache
	Counter   tokens.Counter
	Sink      events.Sink
	BatchSize int
	Log       *zap.Logger
}

func (w *GitTokens) batchSize() int {
	if w.BatchSize < 1 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

// Run counts items in order, emitting git-token-counts events for root keyed by
// path every batch and a final event with Done set. Item paths are relative to
// repo, which also keys the cache. Items without a hash are skipped.
func (w *GitTokens) Run(ctx context.Context, root, repo string, items []DiffItem, superseded func() bool) {
	size := w.batchSize()
	files := make(map[string]int, size)
	var pending []tokens.Record[string]

	flush := func(done bool) {
		w.Cache.SaveBatch(repo, pending)
		pending = nil
		w.Sink.Emit(api.EventGitTokenCounts, api.GitTokenCountsEvent{Root: root, Files: files, Done: done})
		metrics.RecordBatch(api.EventGitTokenCounts)
		files = make(map[string]int, size)
	}

	for _, it := range items {
		if ctx.Err() != nil || superseded() {
			w.Cache.SaveBatch(repo, pending)
			metrics.RecordSuperseded("git")
			loggerOr(w.Log).Debug("git token run superseded", zap.String("root", root))
			return
		}
		if it.Hash == "" {
			continue
		}

		cost, hit := w.Cache.Get(repo, it.Path, it.Hash)
		if hit {
			metrics.RecordWorkerItem("diff", "cache")
		} else {
			cost = w.Counter.Count(it.Diff)
			metrics.RecordWorkerItem("diff", "computed")
			key := tokens.DiffKey(repo, it.Path)
			w.Cache.Set(key, it.Hash, cost)
			pending = append(pending, tokens.Record[string]{Key: key, Sig: it.Hash, Cost: cost})
		}
		files[it.Path] = cost
		if len(files) >= size {
			flush(false)
		}
	}
	flush(true)
}
