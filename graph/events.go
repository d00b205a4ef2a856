package graph

// Event is a structural change notification. It is one of NodeAdded or
// NodeRemoved.
type Event interface {
	isEvent()
}

// NodeAdded is emitted when a node becomes live, either by creation or by
// restoring a deletion.
type NodeAdded struct {
	Parent NodeID
	Node   NodeID
	Kind   NodeKind
}

// NodeRemoved is emitted for every node tombstoned by a deletion.
type NodeRemoved struct {
	Parent NodeID
	Node   NodeID
	Kind   NodeKind
}

func (NodeAdded) isEvent()   {}
func (NodeRemoved) isEvent() {}

// Handler receives events inline with the mutation that caused them. It may
// read the graph but must not mutate it, and should return quickly.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Subscribe registers fn for every subsequent event and returns a function
// that unregisters it. Events reach each subscriber in the order mutations
// were applied.
func (g *Graph) Subscribe(fn Handler) (cancel func()) {
	g.subMu.Lock()
	defer g.subMu.Unlock()

	g.nextSub++
	id := g.nextSub
	g.subs = append(g.subs, subscriber{id: id, fn: fn})

	return func() {
		g.subMu.Lock()
		defer g.subMu.Unlock()
		for i, s := range g.subs {
			if s.id == id {
				g.subs = append(g.subs[:i:i], g.subs[i+1:]...)
				return
			}
		}
	}
}

func (g *Graph) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	g.subMu.Lock()
	subs := g.subs
	g.subMu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}
