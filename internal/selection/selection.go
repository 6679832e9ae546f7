// Package selection implements tri-state checkbox selection over a tree index.
//
// The selection set is owned by the caller and passed in on every call; a
// directory is selected when every file below it is selected and
// indeterminate when some but not all are.
package selection

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/sift/internal/graph"
)

// State is the result of a selection change.
type State struct {
	idx     *graph.Index
	sel     *roaring.Bitmap
	unknown []string
}

// Toggle flips target and everything below it, then re-derives the state of
// target's ancestors.
//
// If any node of the target set is unselected the whole set is selected,
// otherwise the whole set is deselected. An unknown target leaves current
// unchanged. Ids in current that the index does not know are carried through.
func Toggle(idx *graph.Index, current []string, target string) *State {
	sel, unknown := idx.Bitmap(current)
	s := &State{idx: idx, sel: sel, unknown: unknown}

	ord, ok := idx.Ord(target)
	if !ok {
		return s
	}

	targets := roaring.BitmapOf(ord)
	if idx.At(ord).IsDir() {
		graph.AddDescendants(idx, ord, targets)
	}

	if roaring.AndNot(targets, sel).IsEmpty() {
		sel.AndNot(targets)
	} else {
		sel.Or(targets)
	}
	UpdateAncestors(idx, ord, sel)
	return s
}

// Clear returns an empty selection.
func Clear(idx *graph.Index) *State {
	return &State{idx: idx, sel: roaring.New()}
}

// UpdateAncestors walks from ord's parent to the top, marking each ancestor
// selected exactly when AllDescendantsSelected holds for it.
func UpdateAncestors(idx *graph.Index, ord uint32, sel *roaring.Bitmap) {
	visited := roaring.New()
	p, ok := idx.ParentOrd(ord)
	for ok && visited.CheckedAdd(p) {
		if AllDescendantsSelected(idx, p, sel) {
			sel.Add(p)
		} else {
			sel.Remove(p)
		}
		p, ok = idx.ParentOrd(p)
	}
}

// AllDescendantsSelected reports whether ord is a selected file, or a directory
// whose children all pass. An empty directory passes vacuously.
func AllDescendantsSelected(idx *graph.Index, ord uint32, sel *roaring.Bitmap) bool {
	n := idx.At(ord)
	switch n.Kind {
	case graph.KindFile:
		return sel.Contains(ord)
	case graph.KindDirectory:
		for _, c := range idx.ChildOrds(ord) {
			if !AllDescendantsSelected(idx, c, sel) {
				return false
			}
		}
		return true
	default:
		panic("selection: invalid kind")
	}
}

// AnyDescendantSelected reports whether some file below directory ord is selected.
func AnyDescendantSelected(idx *graph.Index, ord uint32, sel *roaring.Bitmap) bool {
	for _, c := range idx.ChildOrds(ord) {
		switch idx.At(c).Kind {
		case graph.KindFile:
			if sel.Contains(c) {
				return true
			}
		case graph.KindDirectory:
			if AnyDescendantSelected(idx, c, sel) {
				return true
			}
		}
	}
	return false
}

// Indeterminate returns the unselected directories with some but not all files
// below them selected. It is equivalent to testing AnyDescendantSelected &&
// !AllDescendantsSelected for every directory, computed in one post-order pass.
func Indeterminate(idx *graph.Index, sel *roaring.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	var visit func(ord uint32) (all, some bool)
	visit = func(ord uint32) (all, some bool) {
		switch idx.At(ord).Kind {
		case graph.KindFile:
			in := sel.Contains(ord)
			return in, in
		case graph.KindDirectory:
			all = true
			for _, c := range idx.ChildOrds(ord) {
				ca, cs := visit(c)
				all = all && ca
				some = some || cs
			}
			if some && !all && !sel.Contains(ord) {
				out.Add(ord)
			}
			return all, some
		default:
			panic("selection: invalid kind")
		}
	}
	for _, ord := range idx.TopLevelOrds() {
		visit(ord)
	}
	return out
}

// Selected returns the selected ids in tree order followed by ids the index
// does not know, in the order they were given.
func (s *State) Selected() []string {
	return append(s.idx.IDs(s.sel), s.unknown...)
}

// Indeterminate returns the indeterminate directory ids in tree order.
func (s *State) Indeterminate() []string {
	return s.idx.IDs(Indeterminate(s.idx, s.sel))
}

// Files returns the selected files in tree order.
func (s *State) Files() []*graph.Node {
	var out []*graph.Node
	it := s.sel.Iterator()
	for it.HasNext() {
		if n := s.idx.At(it.Next()); n.Kind == graph.KindFile {
			out = append(out, n)
		}
	}
	return out
}

// Bitmap returns the selected ordinals. Callers must not modify it.
func (s *State) Bitmap() *roaring.Bitmap { return s.sel }
