package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/sift/api"
)

var ErrNotFound = errors.New("node not found")

// Kind distinguishes files from directories. There are exactly two kinds.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return api.TypeFile
	case KindDirectory:
		return api.TypeDirectory
	default:
		panic(fmt.Sprintf("graph: invalid kind %d", uint8(k)))
	}
}

// ParseKind parses the wire form of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case api.TypeFile:
		return KindFile, nil
	case api.TypeDirectory:
		return KindDirectory, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

// Node is one entry of an indexed tree.
type Node struct {
	ID       string // absolute path
	Title    string
	Kind     Kind
	Parent   string   // "" for top-level nodes
	Children []string // listing order; empty for files

	parentOrd int64 // -1 for top-level nodes
	childOrds []uint32
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == KindDirectory }

// Title is one entry of the search index: a node and its lowercased, trimmed title.
type Title struct {
	Ord   uint32
	Lower string
}

// Index is the flattened, immutable view of one listed root.
//
// Every node gets a dense uint32 ordinal in depth-first order, so node sets
// (closures, keep-sets, selections) are roaring bitmaps and iterate in tree order.
type Index struct {
	root     string
	topLevel []uint32
	nodes    []Node
	ords     map[string]uint32
	titles   []Title
}

// Build flattens a listed tree into an Index.
// Duplicate ids (including a node listed under itself) and unknown kinds are errors.
func Build(root string, tree []api.DirectoryNode) (*Index, error) {
	idx := &Index{
		root: root,
		ords: make(map[string]uint32),
	}
	for i := range tree {
		ord, err := idx.add(&tree[i], -1)
		if err != nil {
			return nil, err
		}
		idx.topLevel = append(idx.topLevel, ord)
	}
	return idx, nil
}

// add inserts n and its subtree depth first, returning n's ordinal.
func (idx *Index) add(n *api.DirectoryNode, parent int64) (uint32, error) {
	kind, err := ParseKind(n.Type)
	if err != nil {
		return 0, fmt.Errorf("node %s: %w", n.ID, err)
	}
	if _, dup := idx.ords[n.ID]; dup {
		return 0, fmt.Errorf("duplicate node id %s", n.ID)
	}

	ord := uint32(len(idx.nodes))
	idx.ords[n.ID] = ord
	node := Node{
		ID:        n.ID,
		Title:     n.Title,
		Kind:      kind,
		parentOrd: parent,
	}
	if parent >= 0 {
		node.Parent = idx.nodes[parent].ID
	}
	idx.nodes = append(idx.nodes, node)
	idx.titles = append(idx.titles, Title{Ord: ord, Lower: strings.ToLower(strings.TrimSpace(n.Title))})

	if kind == KindFile {
		return ord, nil
	}
	for i := range n.Children {
		childOrd, err := idx.add(&n.Children[i], int64(ord))
		if err != nil {
			return 0, err
		}
		// idx.nodes may have grown; re-index instead of holding a pointer.
		p := &idx.nodes[ord]
		p.Children = append(p.Children, n.Children[i].ID)
		p.childOrds = append(p.childOrds, childOrd)
	}
	return ord, nil
}

// Root returns the directory this index was built from.
func (idx *Index) Root() string { return idx.root }

// Len returns the number of nodes.
func (idx *Index) Len() int { return len(idx.nodes) }

// TopLevel returns the ids of the root's immediate entries in listing order.
func (idx *Index) TopLevel() []string {
	out := make([]string, len(idx.topLevel))
	for i, ord := range idx.topLevel {
		out[i] = idx.nodes[ord].ID
	}
	return out
}

// TopLevelOrds returns the ordinals of the root's immediate entries. Callers must not modify it.
func (idx *Index) TopLevelOrds() []uint32 { return idx.topLevel }

// Titles returns the search index in depth-first order. Callers must not modify it.
func (idx *Index) Titles() []Title { return idx.titles }

// Lookup returns the node with the given id.
func (idx *Index) Lookup(id string) (*Node, bool) {
	ord, ok := idx.ords[id]
	if !ok {
		return nil, false
	}
	return &idx.nodes[ord], true
}

// GetNode is Lookup with an error for unknown ids.
func (idx *Index) GetNode(id string) (*Node, error) {
	n, ok := idx.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return n, nil
}

// Ord returns the ordinal of id.
func (idx *Index) Ord(id string) (uint32, bool) {
	ord, ok := idx.ords[id]
	return ord, ok
}

// At returns the node with the given ordinal.
func (idx *Index) At(ord uint32) *Node { return &idx.nodes[ord] }

// ParentOrd returns the ordinal of the node's parent.
func (idx *Index) ParentOrd(ord uint32) (uint32, bool) {
	p := idx.nodes[ord].parentOrd
	if p < 0 {
		return 0, false
	}
	return uint32(p), true
}

// ChildOrds returns the ordinals of the node's children. Callers must not modify it.
func (idx *Index) ChildOrds(ord uint32) []uint32 { return idx.nodes[ord].childOrds }

// Bitmap converts ids to a bitmap of ordinals. Unknown ids are returned separately
// in input order.
func (idx *Index) Bitmap(ids []string) (*roaring.Bitmap, []string) {
	bm := roaring.New()
	var unknown []string
	for _, id := range ids {
		if ord, ok := idx.ords[id]; ok {
			bm.Add(ord)
		} else {
			unknown = append(unknown, id)
		}
	}
	return bm, unknown
}

// IDs converts a bitmap of ordinals back to ids in tree order.
func (idx *Index) IDs(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, idx.nodes[it.Next()].ID)
	}
	return out
}
