// Package vcs reports working tree changes of a git repository together with
// their per-file patch text.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/logging"
)

// DefaultMaxChanges bounds the number of changes returned by Status.
const DefaultMaxChanges = 1000

// emptyTree is the object id git assigns to the empty tree.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Change is one changed path, relative to the repository root.
type Change struct {
	Path         string
	ChangeType   string
	LinesAdded   int
	LinesDeleted int
	Diff         []byte
	Hash         string
}

// Status is the result of inspecting a directory.
type Status struct {
	NotARepo  bool
	RepoRoot  string
	Changes   []Change
	Truncated bool
}

// Git inspects repositories with go-git and asks the git binary for patches.
type Git struct {
	MaxChanges int
	// Bin is the git executable; empty means "git" on PATH.
	Bin string

	log *zap.Logger
}

// New returns a Git that keeps at most maxChanges changes (<= 0 means the default).
func New(maxChanges int) *Git {
	if maxChanges <= 0 {
		maxChanges = DefaultMaxChanges
	}
	return &Git{MaxChanges: maxChanges, log: logging.Named("vcs")}
}

// Status lists the changes of the repository containing root, sorted by path.
// A directory outside any repository yields a Status with NotARepo set.
func (g *Git) Status(ctx context.Context, root string) (*Status, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return &Status{NotARepo: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return &Status{NotARepo: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	out := &Status{RepoRoot: wt.Filesystem.Root()}
	paths := make([]string, 0, len(st))
	for p := range st {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var untracked []int
	for _, p := range paths {
		fs := st[p]
		ct := ClassifyChange(fs)
		if ct == "" {
			continue
		}
		if g.MaxChanges > 0 && len(out.Changes) == g.MaxChanges {
			out.Truncated = true
			break
		}
		if fs.Worktree == git.Untracked {
			untracked = append(untracked, len(out.Changes))
		}
		out.Changes = append(out.Changes, Change{Path: p, ChangeType: ct})
	}
	if len(out.Changes) == 0 {
		return out, nil
	}

	base := emptyTree
	if _, err := repo.Head(); err == nil {
		base = "HEAD"
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	patches := map[string][]byte{}
	tracked, err := g.run(ctx, out.RepoRoot, false, "diff", base, "--no-color", "--no-ext-diff")
	if err != nil {
		g.logger().Warn("git diff failed", zap.String("root", out.RepoRoot), zap.Error(err))
	} else {
		for _, fp := range SplitPatch(tracked) {
			patches[fp.Path] = fp.Text
		}
	}
	for _, i := range untracked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := out.Changes[i].Path
		text, err := g.run(ctx, out.RepoRoot, true, "diff", "--no-index", "--no-color", "--no-ext-diff", "--", "/dev/null", p)
		if err != nil {
			g.logger().Debug("untracked diff failed", zap.String("path", p), zap.Error(err))
			continue
		}
		patches[p] = text
	}

	for i := range out.Changes {
		c := &out.Changes[i]
		c.Diff = patches[c.Path]
		c.LinesAdded, c.LinesDeleted = CountLines(c.Diff)
		c.Hash = DiffHash(c.Diff)
	}
	return out, nil
}

func (g *Git) run(ctx context.Context, dir string, differOK bool, args ...string) ([]byte, error) {
	bin := g.Bin
	if bin == "" {
		bin = "git"
	}
	args = append([]string{"-c", "core.quotepath=off"}, args...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// --no-index exits 1 when the inputs differ.
		if differOK && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("git %v failed: %w: %s", args[2:], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func (g *Git) logger() *zap.Logger {
	if g.log == nil {
		return logging.Named("vcs")
	}
	return g.log
}

// ClassifyChange maps a go-git file status to a change type. Conflicts win
// over renames, renames over deletions, deletions over creations and
// creations over modifications. Unchanged and ignored entries map to "".
func ClassifyChange(fs *git.FileStatus) string {
	has := func(codes ...git.StatusCode) bool {
		for _, c := range codes {
			if fs.Staging == c || fs.Worktree == c {
				return true
			}
		}
		return false
	}
	switch {
	case has(git.UpdatedButUnmerged):
		return api.ChangeConflicted
	case has(git.Renamed):
		return api.ChangeRenamed
	case has(git.Deleted):
		return api.ChangeDeleted
	case has(git.Untracked, git.Added, git.Copied):
		return api.ChangeCreated
	case has(git.Modified):
		return api.ChangeModified
	default:
		return ""
	}
}

// DiffHash is the hex xxhash64 of a patch, or "" for an empty patch.
func DiffHash(diff []byte) string {
	if len(diff) == 0 {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(diff))
}
