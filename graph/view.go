package graph

// View is an immutable point-in-time copy of a graph's live structure.
// Tombstoned nodes are not part of a view. Views are safe for concurrent use
// and never observe later mutations of the graph they came from.
type View struct {
	root     NodeID
	nodes    map[NodeID]Node
	children map[NodeID][]NodeID
	parents  map[NodeID]NodeID
}

// Snapshot copies the live structure in O(n). Note sets are captured as
// their currently published snapshot.
func (g *Graph) Snapshot() *View {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &View{
		root:     g.root,
		nodes:    make(map[NodeID]Node, len(g.nodes)),
		children: make(map[NodeID][]NodeID),
		parents:  make(map[NodeID]NodeID),
	}
	g.walk(g.root, func(n *node) bool {
		if n.deleted {
			return false
		}
		v.nodes[n.id] = g.export(n)
		if p, ok := g.parents[n.id]; ok {
			v.parents[n.id] = p
		}
		if kids := g.liveChildren(n.id); len(kids) > 0 {
			v.children[n.id] = kids
		}
		return true
	})
	return v
}

// Root returns the composition id.
func (v *View) Root() NodeID { return v.root }

// Len returns the number of nodes in the view, the root included.
func (v *View) Len() int { return len(v.nodes) }

// Node returns the node with the given id.
func (v *View) Node(id NodeID) (Node, bool) {
	n, ok := v.nodes[id]
	return n, ok
}

// Children returns the children of id in insertion order. The returned
// slice must not be modified.
func (v *View) Children(id NodeID) []NodeID { return v.children[id] }

// Parent returns the parent of id.
func (v *View) Parent(id NodeID) (NodeID, bool) {
	p, ok := v.parents[id]
	return p, ok
}

// Name returns the composition name.
func (v *View) Name() string { return v.nodes[v.root].Name }

// Metadata returns the composition metadata.
func (v *View) Metadata() Metadata { return v.composition().Metadata }

// Time returns the composition time configuration.
func (v *View) Time() TimeConfig { return v.composition().Time }

func (v *View) composition() Composition {
	c, _ := v.nodes[v.root].Payload.(Composition)
	return c
}

// Channels returns the channel nodes in order.
func (v *View) Channels() []Node {
	return v.nodesOf(v.root)
}

// Regions returns the region nodes of a channel in order.
func (v *View) Regions(channel NodeID) []Node {
	return v.nodesOf(channel)
}

func (v *View) nodesOf(parent NodeID) []Node {
	ids := v.children[parent]
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.nodes[id])
	}
	return out
}

// Edges returns every parent -> child edge in depth-first order.
func (v *View) Edges() []Edge {
	var out []Edge
	var visit func(NodeID)
	visit = func(id NodeID) {
		for _, c := range v.children[id] {
			out = append(out, Edge{Src: id, Dst: c})
			visit(c)
		}
	}
	visit(v.root)
	return out
}

// Equal reports whether two views hold the same nodes, content and child
// order.
func (v *View) Equal(o *View) bool {
	if v.root != o.root || len(v.nodes) != len(o.nodes) || len(v.children) != len(o.children) {
		return false
	}
	for id, n := range v.nodes {
		m, ok := o.nodes[id]
		if !ok || !n.Equal(m) {
			return false
		}
	}
	for id, kids := range v.children {
		other := o.children[id]
		if len(kids) != len(other) {
			return false
		}
		for i := range kids {
			if kids[i] != other[i] {
				return false
			}
		}
	}
	return true
}
