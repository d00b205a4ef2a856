package spatial

import (
	"fmt"
	"log/slog"
	"strings"

	"opusgraph/graph"
)

// Tree is the read-only graph shape the builder consumes. *graph.View
// satisfies it. Implementations must only expose live nodes.
type Tree interface {
	Root() graph.NodeID
	Children(id graph.NodeID) []graph.NodeID
	Node(id graph.NodeID) (graph.Node, bool)
	Len() int
}

// Default quad-tree thresholds. They are fixed tunables and do not depend on
// the data being indexed.
const (
	DefaultMinQuadWidth      = 32.0
	DefaultMinQuadHeight     = 4.0
	DefaultMaxEntriesPerQuad = 8
	DefaultMaxDepth          = 16
)

// Config controls quad splitting.
type Config struct {
	// A quad only splits if each half stays at least this wide and high.
	MinQuadWidth  float64
	MinQuadHeight float64

	// MaxEntriesPerQuad is the number of entries a leaf holds before it
	// tries to split.
	MaxEntriesPerQuad int
	MaxDepth          int

	// Logger receives a debug summary of every build. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinQuadWidth:      DefaultMinQuadWidth,
		MinQuadHeight:     DefaultMinQuadHeight,
		MaxEntriesPerQuad: DefaultMaxEntriesPerQuad,
		MaxDepth:          DefaultMaxDepth,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinQuadWidth <= 0 {
		c.MinQuadWidth = d.MinQuadWidth
	}
	if c.MinQuadHeight <= 0 {
		c.MinQuadHeight = d.MinQuadHeight
	}
	if c.MaxEntriesPerQuad <= 0 {
		c.MaxEntriesPerQuad = d.MaxEntriesPerQuad
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// InternalConsistencyError reports a snapshot that breaks the graph's
// structural invariants, such as a cycle or a duplicated edge. It indicates
// a bug upstream and must not be recovered from by retrying the build.
type InternalConsistencyError struct {
	Node   graph.NodeID
	Reason string

	// Visited is the number of nodes processed when the problem was found.
	Visited int
	// Expected is the number of nodes the snapshot reports.
	Expected int
	// Path runs from the root to the offending node.
	Path []graph.NodeID
}

func (e *InternalConsistencyError) Error() string {
	path := make([]string, len(e.Path))
	for i, id := range e.Path {
		path[i] = id.String()
	}
	return fmt.Sprintf("spatial index: internal consistency violation at node %s: %s (visited %d of %d, path %s)",
		e.Node, e.Reason, e.Visited, e.Expected, strings.Join(path, " > "))
}

type frame struct {
	id        graph.NodeID
	parent    graph.NodeID
	origin    graph.Area
	depth     int
	hasParent bool
}

// Build traverses tree depth-first from its root, computes every node's
// absolute area from its parent's absolute origin and indexes the result.
//
// A node's absolute area is its local area translated by the absolute
// origin of its parent; the root's origin is (0, 0). The index's bounds are
// the minimal box covering every absolute area, and it holds exactly one
// entry per node of the snapshot.
func Build(tree Tree, cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()

	expected := tree.Len()
	entries := make([]Entry, 0, expected)
	visited := make(map[graph.NodeID]bool, expected)
	parentOf := make(map[graph.NodeID]graph.NodeID, expected)

	fail := func(id graph.NodeID, reason string) error {
		return &InternalConsistencyError{
			Node:     id,
			Reason:   reason,
			Visited:  len(visited),
			Expected: expected,
			Path:     pathTo(tree.Root(), id, parentOf),
		}
	}

	var bounds graph.Area
	stack := []frame{{id: tree.Root()}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[f.id] {
			return nil, fail(f.id, "node reached twice (cycle or duplicate edge)")
		}
		n, ok := tree.Node(f.id)
		if !ok {
			return nil, fail(f.id, "edge points to a node missing from the snapshot")
		}
		if n.Deleted {
			return nil, fail(f.id, "tombstoned node in snapshot")
		}
		if f.hasParent {
			parent, _ := tree.Node(f.parent)
			if !graph.ValidEdge(parent.Kind, n.Kind) {
				return nil, fail(f.id, fmt.Sprintf("illegal edge %s -> %s", parent.Kind, n.Kind))
			}
		}
		visited[f.id] = true

		abs := n.Bounds.Translate(f.origin.X, f.origin.Y)
		if err := abs.Validate(); err != nil {
			return nil, fail(f.id, fmt.Sprintf("absolute area out of range: %v", err))
		}
		if len(entries) == 0 {
			bounds = abs
		} else {
			bounds = bounds.Union(abs)
		}
		entries = append(entries, Entry{
			ID:     n.ID,
			Kind:   n.Kind,
			Parent: f.parent,
			Depth:  f.depth,
			Area:   abs,
		})

		children := tree.Children(f.id)
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			if _, seen := parentOf[c]; !seen && !visited[c] {
				parentOf[c] = f.id
			}
			stack = append(stack, frame{id: c, parent: f.id, origin: abs, depth: f.depth + 1, hasParent: true})
		}
	}

	if len(entries) != expected {
		return nil, fail(tree.Root(), fmt.Sprintf("reached %d nodes but the snapshot holds %d", len(entries), expected))
	}

	ix := newIndex(bounds, entries, cfg)
	if ix.Len() != expected {
		return nil, fail(tree.Root(), fmt.Sprintf("index holds %d entries, want %d", ix.Len(), expected))
	}

	cfg.Logger.Debug("spatial index built",
		"entries", ix.Len(),
		"depth", ix.Depth(),
		"bounds", bounds.String())
	return ix, nil
}

func pathTo(root, id graph.NodeID, parentOf map[graph.NodeID]graph.NodeID) []graph.NodeID {
	path := []graph.NodeID{id}
	seen := map[graph.NodeID]bool{id: true}
	for cur := id; cur != root; {
		p, ok := parentOf[cur]
		if !ok || seen[p] {
			break
		}
		path = append(path, p)
		seen[p] = true
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
