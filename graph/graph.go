package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"opusgraph/notes"
)

// node is the arena record. Nodes never reference each other; parent and
// child relations live in the graph's edge table.
type node struct {
	id      NodeID
	kind    NodeKind
	name    string
	bounds  Area
	deleted bool
	// deletedBy is the id passed to the DeleteNode call that tombstoned this
	// node.
	deletedBy NodeID

	color   string
	timeSig TimeSignature
	keySig  KeySignature
	notes   *notes.Set
}

// Graph is the mutable document graph of one open composition.
//
// Mutations run synchronously on the calling goroutine and deliver their
// events before returning. Concurrent mutators are serialized; readers such
// as Snapshot may run from other goroutines.
type Graph struct {
	// writeMu serializes a mutation together with the delivery of its
	// events, so subscribers observe mutation order.
	writeMu sync.Mutex

	mu       sync.RWMutex
	root     NodeID
	nodes    map[NodeID]*node
	edges    map[NodeID][]NodeID
	parents  map[NodeID]NodeID
	metadata Metadata
	time     TimeConfig

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

// CompositionOption configures the root node created by New.
type CompositionOption func(*compositionOptions)

type compositionOptions struct {
	id       NodeID
	metadata Metadata
	time     TimeConfig
}

// WithCompositionID sets the root id instead of generating one.
func WithCompositionID(id NodeID) CompositionOption {
	return func(o *compositionOptions) { o.id = id }
}

// WithMetadata sets the initial composition metadata.
func WithMetadata(m Metadata) CompositionOption {
	return func(o *compositionOptions) { o.metadata = m }
}

// WithTimeConfig sets the tick resolution.
func WithTimeConfig(tc TimeConfig) CompositionOption {
	return func(o *compositionOptions) { o.time = NewTimeConfig(tc.TicksPerQuarter) }
}

// New creates a graph holding only a composition root.
func New(name string, opts ...CompositionOption) *Graph {
	o := compositionOptions{time: NewTimeConfig(DefaultTicksPerQuarter)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}

	root := &node{id: o.id, kind: KindComposition, name: name}
	return &Graph{
		root:     o.id,
		nodes:    map[NodeID]*node{o.id: root},
		edges:    make(map[NodeID][]NodeID),
		parents:  make(map[NodeID]NodeID),
		metadata: o.metadata,
		time:     o.time,
	}
}

// NodeOption configures a channel or region at creation.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	id      NodeID
	name    string
	bounds  Area
	color   string
	timeSig TimeSignature
	keySig  KeySignature
	notes   []notes.Note
}

// WithID uses id instead of a generated one. Parsers use it to keep node
// identity across save and load.
func WithID(id NodeID) NodeOption { return func(o *nodeOptions) { o.id = id } }

// WithName names a region. Channels take their name as an argument.
func WithName(name string) NodeOption { return func(o *nodeOptions) { o.name = name } }

// WithBounds sets a channel's area relative to the composition.
func WithBounds(a Area) NodeOption { return func(o *nodeOptions) { o.bounds = a } }

// WithColor sets a channel's display color.
func WithColor(c string) NodeOption { return func(o *nodeOptions) { o.color = c } }

// WithTimeSignature sets a region's meter.
func WithTimeSignature(ts TimeSignature) NodeOption {
	return func(o *nodeOptions) { o.timeSig = ts }
}

// WithKeySignature sets a region's key.
func WithKeySignature(ks KeySignature) NodeOption {
	return func(o *nodeOptions) { o.keySig = ks }
}

// WithNotes seeds a region's note set.
func WithNotes(ns ...notes.Note) NodeOption {
	return func(o *nodeOptions) { o.notes = append(o.notes, ns...) }
}

// Root returns the composition id.
func (g *Graph) Root() NodeID {
	return g.root
}

// mutate runs fn under the write locks and then delivers the events it
// produced. fn must not change any state when it returns an error.
func (g *Graph) mutate(fn func() ([]Event, error)) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	events, err := fn()
	g.mu.Unlock()
	if err != nil {
		return err
	}

	g.emit(events)
	return nil
}

// AddChannel creates a channel under the composition root.
func (g *Graph) AddChannel(name string, opts ...NodeOption) (NodeID, error) {
	o := nodeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	o.name = name

	var id NodeID
	err := g.mutate(func() ([]Event, error) {
		if name == "" {
			return nil, fmt.Errorf("%w: channel name is empty", ErrInvalidName)
		}
		if err := o.bounds.Validate(); err != nil {
			return nil, err
		}
		if g.liveSiblingNamed(g.root, name, uuid.Nil) {
			return nil, &DuplicateNameError{Parent: g.root, Name: name}
		}
		n, err := g.newNode(KindChannel, o)
		if err != nil {
			return nil, err
		}
		g.link(g.root, n)
		id = n.id
		return []Event{NodeAdded{Parent: g.root, Node: n.id, Kind: KindChannel}}, nil
	})
	return id, err
}

// AddRegion creates a region inside a live channel. bounds is relative to
// the channel.
func (g *Graph) AddRegion(channel NodeID, bounds Area, opts ...NodeOption) (NodeID, error) {
	o := nodeOptions{timeSig: CommonTime}
	for _, opt := range opts {
		opt(&o)
	}
	o.bounds = bounds

	var id NodeID
	err := g.mutate(func() ([]Event, error) {
		if _, err := g.live(channel, KindChannel); err != nil {
			return nil, err
		}
		if err := o.bounds.Validate(); err != nil {
			return nil, err
		}
		if err := o.timeSig.Validate(); err != nil {
			return nil, err
		}
		if err := o.keySig.Validate(); err != nil {
			return nil, err
		}
		n, err := g.newNode(KindRegion, o)
		if err != nil {
			return nil, err
		}
		g.link(channel, n)
		id = n.id
		return []Event{NodeAdded{Parent: channel, Node: n.id, Kind: KindRegion}}, nil
	})
	return id, err
}

func (g *Graph) newNode(kind NodeKind, o nodeOptions) (*node, error) {
	id := o.id
	if id == uuid.Nil {
		id = uuid.New()
	} else if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	n := &node{
		id:     id,
		kind:   kind,
		name:   o.name,
		bounds: o.bounds,
		color:  o.color,
	}
	if kind == KindRegion {
		n.timeSig = o.timeSig
		n.keySig = o.keySig
		n.notes = notes.NewSet(o.notes...)
	}
	return n, nil
}

func (g *Graph) link(parent NodeID, n *node) {
	g.nodes[n.id] = n
	g.edges[parent] = append(g.edges[parent], n.id)
	g.parents[n.id] = parent
}

// live returns the node if it exists, is not tombstoned and has the wanted
// kind. want == 0 accepts any kind.
func (g *Graph) live(id NodeID, want NodeKind) (*node, error) {
	n, ok := g.nodes[id]
	switch {
	case !ok:
		return nil, &UnknownNodeError{ID: id}
	case n.deleted:
		return nil, &UnknownNodeError{ID: id, Reason: "node is deleted"}
	case want != 0 && n.kind != want:
		return nil, &UnknownNodeError{ID: id, Reason: fmt.Sprintf("node is a %s, not a %s", n.kind, want)}
	}
	return n, nil
}

func (g *Graph) liveSiblingNamed(parent NodeID, name string, except NodeID) bool {
	for _, c := range g.edges[parent] {
		n := g.nodes[c]
		if c != except && !n.deleted && n.name == name {
			return true
		}
	}
	return false
}

// DeleteNode tombstones id and every live descendant. One NodeRemoved event
// is emitted per tombstoned node, parents before their children.
// Tombstoned nodes stay addressable through Node until they are purged.
func (g *Graph) DeleteNode(id NodeID) error {
	return g.mutate(func() ([]Event, error) {
		if _, err := g.live(id, 0); err != nil {
			return nil, err
		}
		if id == g.root {
			return nil, ErrRootNode
		}

		var events []Event
		g.walk(id, func(n *node) bool {
			if n.deleted {
				// Deleted earlier on its own; it keeps that deletion.
				return false
			}
			n.deleted = true
			n.deletedBy = id
			events = append(events, NodeRemoved{Parent: g.parents[n.id], Node: n.id, Kind: n.kind})
			return true
		})
		return events, nil
	})
}

// RestoreNode reverses DeleteNode(id): every node tombstoned by that call
// becomes live again and a NodeAdded event is emitted for each, parents
// first. It fails when id was not the argument of a deletion, when its
// parent is no longer live, or when a live sibling took its name meanwhile.
func (g *Graph) RestoreNode(id NodeID) error {
	return g.mutate(func() ([]Event, error) {
		if id == g.root {
			return nil, ErrRootNode
		}
		n, ok := g.nodes[id]
		if !ok {
			return nil, &UnknownNodeError{ID: id}
		}
		if !n.deleted || n.deletedBy != id {
			return nil, fmt.Errorf("%w: %s", ErrNotRestorable, id)
		}
		parent := g.parents[id]
		if _, err := g.live(parent, 0); err != nil {
			return nil, fmt.Errorf("restoring %s: parent: %w", id, err)
		}
		if n.kind == KindChannel && g.liveSiblingNamed(parent, n.name, id) {
			return nil, &DuplicateNameError{Parent: parent, Name: n.name}
		}

		var events []Event
		g.walk(id, func(c *node) bool {
			if !c.deleted || c.deletedBy != id {
				return false
			}
			c.deleted = false
			c.deletedBy = uuid.Nil
			events = append(events, NodeAdded{Parent: g.parents[c.id], Node: c.id, Kind: c.kind})
			return true
		})
		return events, nil
	})
}

// walk visits id and its descendants in pre-order. Returning false from
// visit skips the node's subtree.
func (g *Graph) walk(id NodeID, visit func(*node) bool) {
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(g.nodes[cur]) {
			continue
		}
		children := g.edges[cur]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// SetBounds moves or resizes a channel or region.
func (g *Graph) SetBounds(id NodeID, a Area) error {
	return g.mutate(func() ([]Event, error) {
		n, err := g.live(id, 0)
		if err != nil {
			return nil, err
		}
		if n.kind == KindComposition {
			return nil, fmt.Errorf("%w: %s has no bounds", ErrWrongKind, n.kind)
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		n.bounds = a
		return nil, nil
	})
}

// SetName renames a node. Channel names must stay unique among live
// channels.
func (g *Graph) SetName(id NodeID, name string) error {
	return g.mutate(func() ([]Event, error) {
		n, err := g.live(id, 0)
		if err != nil {
			return nil, err
		}
		if n.kind == KindChannel {
			if name == "" {
				return nil, fmt.Errorf("%w: channel name is empty", ErrInvalidName)
			}
			if g.liveSiblingNamed(g.parents[id], name, id) {
				return nil, &DuplicateNameError{Parent: g.parents[id], Name: name}
			}
		}
		n.name = name
		return nil, nil
	})
}

// SetColor changes a channel's color.
func (g *Graph) SetColor(id NodeID, color string) error {
	return g.mutate(func() ([]Event, error) {
		n, err := g.live(id, KindChannel)
		if err != nil {
			return nil, err
		}
		n.color = color
		return nil, nil
	})
}

// SetTimeSignature changes a region's meter.
func (g *Graph) SetTimeSignature(id NodeID, ts TimeSignature) error {
	return g.mutate(func() ([]Event, error) {
		n, err := g.live(id, KindRegion)
		if err != nil {
			return nil, err
		}
		if err := ts.Validate(); err != nil {
			return nil, err
		}
		n.timeSig = ts
		return nil, nil
	})
}

// SetKeySignature changes a region's key.
func (g *Graph) SetKeySignature(id NodeID, ks KeySignature) error {
	return g.mutate(func() ([]Event, error) {
		n, err := g.live(id, KindRegion)
		if err != nil {
			return nil, err
		}
		if err := ks.Validate(); err != nil {
			return nil, err
		}
		n.keySig = ks
		return nil, nil
	})
}

// SetMetadata inserts or replaces a composition metadata entry.
func (g *Graph) SetMetadata(name, value string) error {
	return g.mutate(func() ([]Event, error) {
		if name == "" {
			return nil, fmt.Errorf("%w: metadata name is empty", ErrInvalidName)
		}
		g.metadata = g.metadata.With(name, value)
		return nil, nil
	})
}

// RemoveMetadata deletes every metadata entry named name.
func (g *Graph) RemoveMetadata(name string) {
	_ = g.mutate(func() ([]Event, error) {
		g.metadata = g.metadata.Without(name)
		return nil, nil
	})
}

// SetTimeConfig changes the tick resolution, repairing non-positive values
// to 1.
func (g *Graph) SetTimeConfig(tc TimeConfig) {
	_ = g.mutate(func() ([]Event, error) {
		g.time = NewTimeConfig(tc.TicksPerQuarter)
		return nil, nil
	})
}

// Notes returns the note set of a live region. The set is safe for use from
// any goroutine.
func (g *Graph) Notes(region NodeID) (*notes.Set, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.live(region, KindRegion)
	if err != nil {
		return nil, err
	}
	return n.notes, nil
}

// Node returns a copy of a node, including tombstoned nodes that have not
// been purged.
func (g *Graph) Node(id NodeID) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, &UnknownNodeError{ID: id}
	}
	return g.export(n), nil
}

// Parent returns the parent of a channel or region.
func (g *Graph) Parent(id NodeID) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.parents[id]
	return p, ok
}

// Children returns the live children of id in insertion order.
func (g *Graph) Children(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.liveChildren(id)
}

func (g *Graph) liveChildren(id NodeID) []NodeID {
	var out []NodeID
	for _, c := range g.edges[id] {
		if !g.nodes[c].deleted {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live nodes, the root included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, n := range g.nodes {
		if !n.deleted {
			count++
		}
	}
	return count
}

// Metadata returns the composition metadata.
func (g *Graph) Metadata() Metadata {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metadata
}

// Time returns the composition time configuration.
func (g *Graph) Time() TimeConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.time
}

func (g *Graph) export(n *node) Node {
	out := Node{
		ID:      n.id,
		Kind:    n.kind,
		Name:    n.name,
		Bounds:  n.bounds,
		Deleted: n.deleted,
	}
	switch n.kind {
	case KindComposition:
		out.Payload = Composition{Metadata: g.metadata, Time: g.time}
	case KindChannel:
		out.Payload = Channel{Color: n.color}
	case KindRegion:
		out.Payload = Region{TimeSignature: n.timeSig, KeySignature: n.keySig, Notes: n.notes.Read()}
	}
	return out
}
