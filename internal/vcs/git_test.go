package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/sift/api"
)

func runGit(t *testing.T, dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	err := cmd.Run()
	require.NoError(t, err, "git %v failed", args)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Tester")
	runGit(t, dir, "config", "user.email", "test@example.com")
	return dir
}

func byPath(changes []Change) map[string]Change {
	out := map[string]Change{}
	for _, c := range changes {
		out[c.Path] = c
	}
	return out
}

func TestStatus_WorkingTreeChanges(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	write(t, dir, ".gitignore", "*.log\n")
	write(t, dir, "a.txt", "one\ntwo\n")
	write(t, dir, "b.txt", "x\n")
	write(t, dir, "c.txt", "same\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")

	write(t, dir, "a.txt", "one\nTWO\nthree\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))
	write(t, dir, "d.txt", "hello\n")
	write(t, dir, "e.txt", "staged\n")
	runGit(t, dir, "add", "e.txt")
	write(t, dir, "debug.log", "ignored\n")

	st, err := New(0).Status(context.Background(), dir)
	require.NoError(t, err)
	require.False(t, st.NotARepo)
	assert.False(t, st.Truncated)

	got := byPath(st.Changes)
	require.Len(t, got, 4, "unchanged and ignored files are not reported")

	a := got["a.txt"]
	assert.Equal(t, api.ChangeModified, a.ChangeType)
	assert.Equal(t, 2, a.LinesAdded)
	assert.Equal(t, 1, a.LinesDeleted)
	assert.Contains(t, string(a.Diff), "+three")
	assert.Equal(t, DiffHash(a.Diff), a.Hash)
	assert.Len(t, a.Hash, 16)

	b := got["b.txt"]
	assert.Equal(t, api.ChangeDeleted, b.ChangeType)
	assert.Equal(t, 1, b.LinesDeleted)

	d := got["d.txt"]
	assert.Equal(t, api.ChangeCreated, d.ChangeType)
	assert.Equal(t, 1, d.LinesAdded)
	assert.NotEmpty(t, d.Hash)

	e := got["e.txt"]
	assert.Equal(t, api.ChangeCreated, e.ChangeType)
	assert.Equal(t, 1, e.LinesAdded)

	// Sorted by path.
	var paths []string
	for _, c := range st.Changes {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "d.txt", "e.txt"}, paths)
}

func TestStatus_Subdirectory(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	write(t, dir, "pkg/x.go", "package pkg\n")

	st, err := New(0).Status(context.Background(), filepath.Join(dir, "pkg"))
	require.NoError(t, err)
	require.Len(t, st.Changes, 1)
	assert.Equal(t, "pkg/x.go", st.Changes[0].Path)
	assert.Equal(t, 1, st.Changes[0].LinesAdded)
}

func TestStatus_NoCommitsYet(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	write(t, dir, "staged.txt", "a\nb\n")
	runGit(t, dir, "add", "staged.txt")

	st, err := New(0).Status(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, st.Changes, 1)
	assert.Equal(t, api.ChangeCreated, st.Changes[0].ChangeType)
	assert.Equal(t, 2, st.Changes[0].LinesAdded)
}

func TestStatus_Truncated(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		write(t, dir, name, name+"\n")
	}

	st, err := New(2).Status(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, st.Truncated)
	require.Len(t, st.Changes, 2)
	assert.Equal(t, "1.txt", st.Changes[0].Path)
}

func TestStatus_CleanRepo(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	runGit(t, dir, "commit", "--allow-empty", "-m", "Initial commit")

	st, err := New(0).Status(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, st.NotARepo)
	assert.Empty(t, st.Changes)
}

func TestStatus_NotARepo(t *testing.T) {
	st, err := New(0).Status(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, st.NotARepo)
	assert.Empty(t, st.Changes)
}

func TestStatus_MissingGitBinaryDegrades(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	write(t, dir, "n.txt", "n\n")

	g := New(0)
	g.Bin = filepath.Join(t.TempDir(), "no-such-git")
	st, err := g.Status(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, st.Changes, 1)
	assert.Equal(t, api.ChangeCreated, st.Changes[0].ChangeType)
	assert.Empty(t, st.Changes[0].Hash)
	assert.Zero(t, st.Changes[0].LinesAdded)
}
