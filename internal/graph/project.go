package graph

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/sift/api"
)

// Projections turn an Index plus a node set into nested trees.
// Every walk carries a visited guard so malformed input cannot loop.

// FullTree materializes every top-level node with its subtree and returns the
// number of nodes emitted.
func FullTree(idx *Index) ([]api.DirectoryNode, int) {
	visited := roaring.New()
	out := make([]api.DirectoryNode, 0, len(idx.topLevel))
	count := 0
	for _, ord := range idx.topLevel {
		if n, ok := idx.full(ord, visited, &count); ok {
			out = append(out, n)
		}
	}
	return out, count
}

func (idx *Index) full(ord uint32, visited *roaring.Bitmap, count *int) (api.DirectoryNode, bool) {
	if !visited.CheckedAdd(ord) {
		return api.DirectoryNode{}, false
	}
	n := &idx.nodes[ord]
	*count++
	out := api.DirectoryNode{
		ID:       n.ID,
		Title:    n.Title,
		Type:     n.Kind.String(),
		Children: []api.DirectoryNode{},
	}
	for _, c := range n.childOrds {
		if child, ok := idx.full(c, visited, count); ok {
			out.Children = append(out.Children, child)
		}
	}
	return out, true
}

// PrunedTree materializes the subtree at ord restricted to keep.
// A file survives iff it is in keep; a directory survives iff it is in keep or
// at least one child survives.
func PrunedTree(idx *Index, ord uint32, keep *roaring.Bitmap) (api.DirectoryNode, bool) {
	return idx.pruned(ord, keep, roaring.New())
}

func (idx *Index) pruned(ord uint32, keep, visited *roaring.Bitmap) (api.DirectoryNode, bool) {
	if !visited.CheckedAdd(ord) {
		return api.DirectoryNode{}, false
	}
	n := &idx.nodes[ord]
	switch n.Kind {
	case KindFile:
		if !keep.Contains(ord) {
			return api.DirectoryNode{}, false
		}
		return api.DirectoryNode{ID: n.ID, Title: n.Title, Type: api.TypeFile, Children: []api.DirectoryNode{}}, true
	case KindDirectory:
		children := []api.DirectoryNode{}
		for _, c := range n.childOrds {
			if child, ok := idx.pruned(c, keep, visited); ok {
				children = append(children, child)
			}
		}
		if len(children) == 0 && !keep.Contains(ord) {
			return api.DirectoryNode{}, false
		}
		return api.DirectoryNode{ID: n.ID, Title: n.Title, Type: api.TypeDirectory, Children: children}, true
	default:
		panic("graph: invalid kind")
	}
}

// AddAncestors inserts every proper ancestor of ord into acc, stopping early
// at the first ancestor already present.
func AddAncestors(idx *Index, ord uint32, acc *roaring.Bitmap) {
	cur, ok := idx.ParentOrd(ord)
	for ok {
		if !acc.CheckedAdd(cur) {
			return
		}
		cur, ok = idx.ParentOrd(cur)
	}
}

// AddDescendants inserts every proper descendant of ord into acc.
// A node already in acc is not expanded again, so acc must hold only whole
// subtrees; use a fresh bitmap and merge it when acc also holds ancestors.
func AddDescendants(idx *Index, ord uint32, acc *roaring.Bitmap) {
	stack := append([]uint32(nil), idx.nodes[ord].childOrds...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !acc.CheckedAdd(c) {
			continue
		}
		stack = append(stack, idx.nodes[c].childOrds...)
	}
}

// CountMatched counts the nodes of tree that are in matches. Nodes kept only as
// ancestors or descendants of a match are not counted.
func CountMatched(idx *Index, tree []api.DirectoryNode, matches *roaring.Bitmap) int {
	count := 0
	var walk func(nodes []api.DirectoryNode)
	walk = func(nodes []api.DirectoryNode) {
		for i := range nodes {
			if ord, ok := idx.ords[nodes[i].ID]; ok && matches.Contains(ord) {
				count++
			}
			walk(nodes[i].Children)
		}
	}
	walk(tree)
	return count
}
