// Package spatial projects a graph snapshot into absolute coordinates and
// indexes the resulting areas in an immutable quad-tree for hit-testing and
// rendering.
package spatial

import (
	"slices"

	"opusgraph/graph"
)

// Entry is one indexed node.
type Entry struct {
	ID     graph.NodeID
	Kind   graph.NodeKind
	Parent graph.NodeID
	Depth  int

	// Area is the node's area in absolute coordinates.
	Area graph.Area
}

// Index is an immutable area index over the nodes of one snapshot.
type Index struct {
	bounds   graph.Area
	entries  []Entry
	byID     map[graph.NodeID]int
	root     *quad
	maxDepth int
}

type quad struct {
	bounds   graph.Area
	entries  []int
	children *[4]*quad
}

func newIndex(bounds graph.Area, entries []Entry, cfg Config) *Index {
	ix := &Index{
		bounds:  bounds,
		entries: entries,
		byID:    make(map[graph.NodeID]int, len(entries)),
		root:    &quad{bounds: bounds},
	}
	for i := range entries {
		ix.byID[entries[i].ID] = i
		ix.insert(ix.root, i, 0, cfg)
	}
	return ix
}

func (ix *Index) insert(q *quad, i int, depth int, cfg Config) {
	if depth > ix.maxDepth {
		ix.maxDepth = depth
	}
	if q.children != nil {
		if c := q.childFor(ix.entries[i].Area); c != nil {
			ix.insert(c, i, depth+1, cfg)
			return
		}
		q.entries = append(q.entries, i)
		return
	}

	q.entries = append(q.entries, i)
	if len(q.entries) <= cfg.MaxEntriesPerQuad || !q.canSplit(depth, cfg) {
		return
	}

	q.split()
	pending := q.entries
	q.entries = nil
	for _, j := range pending {
		if c := q.childFor(ix.entries[j].Area); c != nil {
			ix.insert(c, j, depth+1, cfg)
		} else {
			q.entries = append(q.entries, j)
		}
	}
}

// canSplit applies the fixed thresholds that bound recursion for degenerate
// inputs such as many nodes stacked on one point.
func (q *quad) canSplit(depth int, cfg Config) bool {
	return depth < cfg.MaxDepth &&
		q.bounds.Width/2 >= cfg.MinQuadWidth &&
		q.bounds.Height/2 >= cfg.MinQuadHeight
}

func (q *quad) split() {
	hw, hh := q.bounds.Width/2, q.bounds.Height/2
	x, y := q.bounds.X, q.bounds.Y
	q.children = &[4]*quad{
		{bounds: graph.Rect(x, y, hw, hh)},
		{bounds: graph.Rect(x+hw, y, hw, hh)},
		{bounds: graph.Rect(x, y+hh, hw, hh)},
		{bounds: graph.Rect(x+hw, y+hh, hw, hh)},
	}
}

func (q *quad) childFor(a graph.Area) *quad {
	for _, c := range q.children {
		if c.bounds.Contains(a) {
			return c
		}
	}
	return nil
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Bounds returns the smallest area covering every entry.
func (ix *Index) Bounds() graph.Area { return ix.bounds }

// Depth returns the deepest quad level used.
func (ix *Index) Depth() int { return ix.maxDepth }

// Entries returns all entries in traversal order.
func (ix *Index) Entries() []Entry { return slices.Clone(ix.entries) }

// Lookup returns the entry of a node.
func (ix *Index) Lookup(id graph.NodeID) (Entry, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// QueryPoint returns every entry whose area contains (x, y), in traversal
// order.
func (ix *Index) QueryPoint(x, y float64) []Entry {
	var hits []int
	var visit func(q *quad)
	visit = func(q *quad) {
		for _, i := range q.entries {
			if ix.entries[i].Area.ContainsPoint(x, y) {
				hits = append(hits, i)
			}
		}
		if q.children == nil {
			return
		}
		for _, c := range q.children {
			if c.bounds.ContainsPoint(x, y) {
				visit(c)
			}
		}
	}
	visit(ix.root)
	return ix.collect(hits)
}

// QueryArea returns every entry whose area intersects a, in traversal order.
func (ix *Index) QueryArea(a graph.Area) []Entry {
	var hits []int
	var visit func(q *quad)
	visit = func(q *quad) {
		for _, i := range q.entries {
			if ix.entries[i].Area.Intersects(a) {
				hits = append(hits, i)
			}
		}
		if q.children == nil {
			return
		}
		for _, c := range q.children {
			if c.bounds.Intersects(a) {
				visit(c)
			}
		}
	}
	visit(ix.root)
	return ix.collect(hits)
}

// HitTest returns the topmost entry at (x, y): the deepest node, and among
// equally deep nodes the one drawn last.
func (ix *Index) HitTest(x, y float64) (Entry, bool) {
	hits := ix.QueryPoint(x, y)
	if len(hits) == 0 {
		return Entry{}, false
	}
	best := hits[0]
	for _, e := range hits[1:] {
		if e.Depth >= best.Depth {
			best = e
		}
	}
	return best, true
}

func (ix *Index) collect(hits []int) []Entry {
	slices.Sort(hits)
	out := make([]Entry, len(hits))
	for k, i := range hits {
		out[k] = ix.entries[i]
	}
	return out
}
