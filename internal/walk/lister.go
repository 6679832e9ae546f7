// Package walk lists a directory as a nested tree, honoring .gitignore files.
package walk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/logging"
)

const gitDir = ".git"

// Lister lists directories through a billy filesystem.
type Lister struct {
	// Open returns a filesystem whose root is the listed directory.
	Open func(root string) (billy.Filesystem, error)
	// Global patterns apply everywhere, before any .gitignore file.
	Global []gitignore.Pattern

	log *zap.Logger
}

// NewLister lists the host filesystem and honors the user's global excludes file.
func NewLister() *Lister {
	l := &Lister{
		Open: func(root string) (billy.Filesystem, error) {
			return osfs.New(root), nil
		},
		log: logging.Named("walk"),
	}
	if ps, err := gitignore.LoadGlobalPatterns(osfs.New(string(filepath.Separator))); err == nil {
		l.Global = ps
	}
	return l
}

// NewListerFS lists directories inside fs, treating each root as a path in fs.
func NewListerFS(fs billy.Filesystem) *Lister {
	return &Lister{
		Open: func(root string) (billy.Filesystem, error) {
			return fs.Chroot(root)
		},
		log: logging.Named("walk"),
	}
}

// List returns the entries under root, directories first and then by name,
// with ids formed by joining root and the entry's relative path. Ignored
// entries and .git are skipped, hidden files are kept, and symlinks are listed
// as files without being followed. Any unreadable directory fails the listing.
func (l *Lister) List(ctx context.Context, root string) ([]api.DirectoryNode, error) {
	root = filepath.Clean(root)
	fs, err := l.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", root, err)
	}
	info, err := fs.Stat("")
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	patterns := slices.Clone(l.Global)
	local, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		l.logger().Warn("read .gitignore patterns", zap.String("root", root), zap.Error(err))
	}
	patterns = append(patterns, local...)

	w := &walker{ctx: ctx, fs: fs, root: root, matcher: gitignore.NewMatcher(patterns)}
	return w.list(nil)
}

func (l *Lister) logger() *zap.Logger {
	if l.log == nil {
		return logging.Named("walk")
	}
	return l.log
}

type walker struct {
	ctx     context.Context
	fs      billy.Filesystem
	root    string
	matcher gitignore.Matcher
}

func (w *walker) list(rel []string) ([]api.DirectoryNode, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}
	dir := w.fs.Join(rel...)
	infos, err := w.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", filepath.Join(w.root, filepath.FromSlash(dir)), err)
	}
	sortEntries(infos)

	out := []api.DirectoryNode{}
	for _, fi := range infos {
		name := fi.Name()
		if name == gitDir {
			continue
		}
		isDir := fi.IsDir()
		p := append(slices.Clone(rel), name)
		if w.matcher.Match(p, isDir) {
			continue
		}

		node := api.DirectoryNode{
			ID:       filepath.Join(w.root, filepath.Join(p...)),
			Title:    name,
			Type:     api.TypeFile,
			Children: []api.DirectoryNode{},
		}
		if isDir {
			node.Type = api.TypeDirectory
			if node.Children, err = w.list(p); err != nil {
				return nil, err
			}
		}
		out = append(out, node)
	}
	return out, nil
}

// sortEntries orders directories before files, then names bytewise.
func sortEntries(infos []os.FileInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		di, dj := infos[i].IsDir(), infos[j].IsDir()
		if di != dj {
			return di
		}
		return infos[i].Name() < infos[j].Name()
	})
}
