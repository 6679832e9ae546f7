// Package graphtest builds small trees for tests.
package graphtest

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"

	"pgregory.net/rapid"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/graph"
)

// Dir returns a directory node titled with the last element of id.
func Dir(id string, children ...api.DirectoryNode) api.DirectoryNode {
	if children == nil {
		children = []api.DirectoryNode{}
	}
	return api.DirectoryNode{ID: id, Title: path.Base(id), Type: api.TypeDirectory, Children: children}
}

// File returns a file node titled with the last element of id.
func File(id string) api.DirectoryNode {
	return api.DirectoryNode{ID: id, Title: path.Base(id), Type: api.TypeFile, Children: []api.DirectoryNode{}}
}

// MustBuild builds an index or panics.
func MustBuild(root string, tree ...api.DirectoryNode) *graph.Index {
	idx, err := graph.Build(root, tree)
	if err != nil {
		panic(err)
	}
	return idx
}

// Lister serves a fixed tree and counts calls.
type Lister struct {
	Tree  []api.DirectoryNode
	Err   error
	calls atomic.Int64
}

func (l *Lister) List(_ context.Context, _ string) ([]api.DirectoryNode, error) {
	l.calls.Add(1)
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Tree, nil
}

// Calls returns how many times List ran.
func (l *Lister) Calls() int { return int(l.calls.Load()) }

// Sample is the tree used across tests:
//
//	/r
//	├── docs/
//	│   ├── guide.md
//	│   └── api/
//	│       └── ref.md
//	├── src/
//	│   ├── main.go
//	│   └── util.go
//	├── empty/
//	└── README.md
func Sample() []api.DirectoryNode {
	return []api.DirectoryNode{
		Dir("/r/docs",
			File("/r/docs/guide.md"),
			Dir("/r/docs/api", File("/r/docs/api/ref.md")),
		),
		Dir("/r/src",
			File("/r/src/main.go"),
			File("/r/src/util.go"),
		),
		Dir("/r/empty"),
		File("/r/README.md"),
	}
}

// Gen draws a random tree under /g with short, overlapping titles.
func Gen(t *rapid.T) []api.DirectoryNode {
	seq := 0
	var gen func(parent string, depth int) []api.DirectoryNode
	gen = func(parent string, depth int) []api.DirectoryNode {
		n := rapid.IntRange(0, 4).Draw(t, "children")
		out := []api.DirectoryNode{}
		for i := 0; i < n; i++ {
			seq++
			stem := rapid.SampledFrom([]string{"a", "ab", "b", "Ba", "abc", "c"}).Draw(t, "title")
			id := fmt.Sprintf("%s/%s%d", parent, stem, seq)
			if depth < 3 && rapid.Bool().Draw(t, "dir") {
				out = append(out, Dir(id, gen(id, depth+1)...))
			} else {
				out = append(out, File(id))
			}
		}
		return out
	}
	return gen("/g", 0)
}
