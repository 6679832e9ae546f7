package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/store"
	"github.com/agentic-research/sift/internal/tokens"
)

func never() bool { return false }

// byteCounter makes every file cost its length and counts calls.
type byteCounter struct{ calls int }

func (c *byteCounter) Count(b []byte) int {
	c.calls++
	return len(b)
}

func writeFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f%03d.txt", i))
		require.NoError(t, os.WriteFile(p, []byte("abcd"), 0o644))
		ids = append(ids, p)
	}
	return ids
}

func fileEvents(t *testing.T, rec *events.Recorder) []api.TokenCountsEvent {
	t.Helper()
	var out []api.TokenCountsEvent
	for _, ev := range rec.Events(api.EventFileTokenCounts) {
		out = append(out, ev.Payload.(api.TokenCountsEvent))
	}
	return out
}

func TestSelectionID_OrderIndependent(t *testing.T) {
	a := SelectionID([]string{"/x/a", "/x/b"})
	b := SelectionID([]string{"/x/b", "/x/a"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, SelectionID([]string{"/x/a"}))
}

func TestFileTokens_BatchesAndFinalEvent(t *testing.T) {
	dir := t.TempDir()
	ids := writeFiles(t, dir, 60)

	rec := &events.Recorder{}
	st := store.NewMemory()
	w := &FileTokens{Cache: tokens.NewFileCache(st), Counter: &byteCounter{}, Sink: rec}
	w.Run(context.Background(), dir, ids, never)

	evs := fileEvents(t, rec)
	require.Len(t, evs, 3)
	assert.Len(t, evs[0].Files, 25)
	assert.Len(t, evs[1].Files, 25)
	assert.Len(t, evs[2].Files, 10)

	// Running totals, final total covers everything.
	assert.Equal(t, 100, evs[0].TotalTokenCount)
	assert.Equal(t, 200, evs[1].TotalTokenCount)
	assert.Equal(t, 240, evs[2].TotalTokenCount)
	assert.False(t, evs[0].Done)
	assert.True(t, evs[2].Done)

	sel := SelectionID(ids)
	for _, ev := range evs {
		assert.Equal(t, sel, ev.SelectionID)
	}
	assert.Equal(t, ids[0], evs[0].Files[0].ID)
	assert.Equal(t, 4, evs[0].Files[0].TokenCount)

	// Persisted under the root.
	_, ok, err := st.Get(tokens.CategoryFiles, dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileTokens_ExactMultipleEmitsEmptyFinal(t *testing.T) {
	dir := t.TempDir()
	ids := writeFiles(t, dir, 25)

	rec := &events.Recorder{}
	w := &FileTokens{Cache: tokens.NewFileCache(store.NewMemory()), Counter: &byteCounter{}, Sink: rec}
	w.Run(context.Background(), dir, ids, never)

	evs := fileEvents(t, rec)
	require.Len(t, evs, 2)
	assert.Len(t, evs[0].Files, 25)
	assert.Empty(t, evs[1].Files)
	assert.True(t, evs[1].Done)
	assert.Equal(t, 100, evs[1].TotalTokenCount)
}

func TestFileTokens_EmptySelection(t *testing.T) {
	rec := &events.Recorder{}
	w := &FileTokens{Cache: tokens.NewFileCache(store.NewMemory()), Counter: &byteCounter{}, Sink: rec}
	w.Run(context.Background(), "/r", nil, never)

	evs := fileEvents(t, rec)
	require.Len(t, evs, 1)
	assert.Equal(t, 0, evs[0].TotalTokenCount)
	assert.Empty(t, evs[0].Files)
	assert.NotNil(t, evs[0].Files)
	assert.True(t, evs[0].Done)
	assert.Equal(t, SelectionID(nil), evs[0].SelectionID)
}

func TestFileTokens_UsesCacheOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	ids := writeFiles(t, dir, 3)
	counter := &byteCounter{}
	cache := tokens.NewFileCache(store.NewMemory())

	w := &FileTokens{Cache: cache, Counter: counter, Sink: events.Discard}
	w.Run(context.Background(), dir, ids, never)
	require.Equal(t, 3, counter.calls)

	w.Run(context.Background(), dir, ids, never)
	assert.Equal(t, 3, counter.calls, "second run is served from cache")

	got, ok := cache.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, 4, got)
}

func TestFileTokens_UnreadableCountsZero(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "gone.txt")

	rec := &events.Recorder{}
	w := &FileTokens{Cache: tokens.NewFileCache(store.NewMemory()), Counter: &byteCounter{}, Sink: rec}
	w.Run(context.Background(), dir, []string{missing}, never)

	evs := fileEvents(t, rec)
	require.Len(t, evs, 1)
	assert.Equal(t, 0, evs[0].Files[0].TokenCount)
	assert.Equal(t, 0, w.Cache.Len(), "no signature, nothing cached")
}

func TestFileTokens_SupersededStopsWithoutFinal(t *testing.T) {
	dir := t.TempDir()
	ids := writeFiles(t, dir, 60)

	rec := &events.Recorder{}
	st := store.NewMemory()
	w := &FileTokens{Cache: tokens.NewFileCache(st), Counter: &byteCounter{}, Sink: rec, BatchSize: 10}

	processed := 0
	w.Run(context.Background(), dir, ids, func() bool {
		processed++
		return processed > 15
	})

	evs := fileEvents(t, rec)
	require.Len(t, evs, 1, "one full batch, then abandoned")
	assert.False(t, evs[0].Done)
	assert.Equal(t, 15, w.Cache.Len())

	// Partial work was persisted: a fresh cache sees all 15.
	fresh := tokens.NewFileCache(st)
	fresh.EnsureLoaded(dir)
	assert.Equal(t, 15, fresh.Len())
}

func TestGitTokens_BatchesSkipsEmptyHash(t *testing.T) {
	var items []DiffItem
	for i := 0; i < 30; i++ {
		items = append(items, DiffItem{Path: fmt.Sprintf("f%02d.go", i), Diff: []byte("+x\n"), Hash: fmt.Sprintf("h%02d", i)})
	}
	items = append(items, DiffItem{Path: "empty.go", Hash: ""})

	rec := &events.Recorder{}
	counter := &byteCounter{}
	st := store.NewMemory()
	w := &GitTokens{Cache: tokens.NewDiffCache(st), Counter: counter, Sink: rec}
	w.Run(context.Background(), "/repo", "/repo", items, never)

	evs := rec.Events(api.EventGitTokenCounts)
	require.Len(t, evs, 2)
	first := evs[0].Payload.(api.GitTokenCountsEvent)
	last := evs[1].Payload.(api.GitTokenCountsEvent)
	assert.Len(t, first.Files, 25)
	assert.Len(t, last.Files, 5)
	assert.True(t, last.Done)
	assert.Equal(t, "/repo", last.Root)
	assert.NotContains(t, last.Files, "empty.go")
	assert.Equal(t, 3, first.Files["f00.go"])

	// Second run hits the cache.
	w.Run(context.Background(), "/repo", "/repo", items, never)
	assert.Equal(t, 30, counter.calls)

	fresh := tokens.NewDiffCache(st)
	fresh.EnsureLoaded("/repo")
	got, ok := fresh.Get("/repo", "f29.go", "h29")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestGitTokens_EmptyEmitsFinal(t *testing.T) {
	rec := &events.Recorder{}
	w := &GitTokens{Cache: tokens.NewDiffCache(store.NewMemory()), Counter: &byteCounter{}, Sink: rec}
	w.Run(context.Background(), "/repo", "/repo", nil, never)

	evs := rec.Events(api.EventGitTokenCounts)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Payload.(api.GitTokenCountsEvent).Done)
}

func TestGitTokens_SubdirectoryRootSharesRepoCache(t *testing.T) {
	rec := &events.Recorder{}
	st := store.NewMemory()
	w := &GitTokens{Cache: tokens.NewDiffCache(st), Counter: &byteCounter{}, Sink: rec}
	items := []DiffItem{{Path: "sub/x.go", Diff: []byte("+x\n"), Hash: "h1"}}

	w.Run(context.Background(), "/repo/sub", "/repo", items, never)

	evs := rec.Events(api.EventGitTokenCounts)
	require.Len(t, evs, 1)
	ev := evs[0].Payload.(api.GitTokenCountsEvent)
	assert.Equal(t, "/repo/sub", ev.Root)
	assert.Equal(t, map[string]int{"sub/x.go": 3}, ev.Files)

	fresh := tokens.NewDiffCache(st)
	fresh.EnsureLoaded("/repo")
	got, ok := fresh.Get("/repo", "sub/x.go", "h1")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}
