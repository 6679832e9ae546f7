// Package search answers substring queries over a tree index with a pruned tree.
package search

import (
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/graph"
)

// Run searches idx for term.
//
// An empty or whitespace-only term returns the whole tree with the total node
// count. Otherwise a node matches when its lowercased title contains the
// lowercased term; the result keeps matches, their ancestors and everything
// below matched directories, and counts only the matches themselves.
func Run(idx *graph.Index, term string) api.SearchMatch {
	q := strings.ToLower(strings.TrimSpace(term))
	if q == "" {
		tree, total := graph.FullTree(idx)
		return api.SearchMatch{MatchedIDsCount: total, Results: tree}
	}

	matches := Matches(idx, q)
	keep := Expand(idx, matches)

	results := []api.DirectoryNode{}
	for _, id := range idx.TopLevel() {
		ord, _ := idx.Ord(id)
		if n, ok := graph.PrunedTree(idx, ord, keep); ok {
			results = append(results, n)
		}
	}
	return api.SearchMatch{
		MatchedIDsCount: graph.CountMatched(idx, results, matches),
		Results:         results,
	}
}

// Matches returns the nodes whose title contains q. q must already be trimmed
// and lowercased.
func Matches(idx *graph.Index, q string) *roaring.Bitmap {
	bm := roaring.New()
	for _, t := range idx.Titles() {
		if strings.Contains(t.Lower, q) {
			bm.Add(t.Ord)
		}
	}
	return bm
}

// Expand returns matches plus their ancestors plus all descendants of matched
// directories.
func Expand(idx *graph.Index, matches *roaring.Bitmap) *roaring.Bitmap {
	keep := matches.Clone()
	below := roaring.New()

	// Ordinals are depth-first, so an outer matched directory is expanded
	// before any matched directory inside it.
	it := matches.Iterator()
	for it.HasNext() {
		ord := it.Next()
		graph.AddAncestors(idx, ord, keep)
		if idx.At(ord).IsDir() && !below.Contains(ord) {
			graph.AddDescendants(idx, ord, below)
		}
	}
	keep.Or(below)
	return keep
}
