package graph

import "fmt"

// PurgePlan describes what a purge would physically remove.
type PurgePlan struct {
	// Nodes that will be removed
	Nodes []NodeID

	// Edges that will be removed
	EdgesRemoved int

	// Counts by kind for summary
	ChannelCount int
	RegionCount  int
	NoteCount    int
}

// PlanPurge computes which tombstoned nodes a purge would remove, using a
// mark-and-sweep over the edge table:
// 1. Mark every live node reachable from the root
// 2. Everything unmarked is a tombstone or lies below one
func (g *Graph) PlanPurge() *PurgePlan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	plan := &PurgePlan{}

	marked := make(map[NodeID]bool, len(g.nodes))
	queue := []NodeID{g.root}
	marked[g.root] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.edges[id] {
			if !marked[c] && !g.nodes[c].deleted {
				marked[c] = true
				queue = append(queue, c)
			}
		}
	}

	g.walk(g.root, func(n *node) bool {
		if marked[n.id] {
			return true
		}
		plan.Nodes = append(plan.Nodes, n.id)
		plan.EdgesRemoved++
		switch n.kind {
		case KindChannel:
			plan.ChannelCount++
		case KindRegion:
			plan.RegionCount++
			plan.NoteCount += n.notes.Read().Len()
		}
		return true
	})

	return plan
}

// Purge physically removes the nodes of plan. Nodes restored since the plan
// was built are skipped. Purged ids become unknown; no events are emitted
// because their removal was already announced when they were deleted.
func (g *Graph) Purge(plan *PurgePlan) (int, error) {
	if plan == nil || len(plan.Nodes) == 0 {
		return 0, nil
	}

	removed := 0
	err := g.mutate(func() ([]Event, error) {
		doomed := make(map[NodeID]bool, len(plan.Nodes))
		for _, id := range plan.Nodes {
			if id == g.root {
				return nil, fmt.Errorf("purge plan includes the root: %w", ErrRootNode)
			}
			if g.purgeable(id) {
				doomed[id] = true
			}
		}

		for id := range doomed {
			parent := g.parents[id]
			if !doomed[parent] {
				g.edges[parent] = removeID(g.edges[parent], id)
			}
			delete(g.edges, id)
			delete(g.parents, id)
			delete(g.nodes, id)
			removed++
		}
		return nil, nil
	})
	return removed, err
}

// purgeable reports whether id is a tombstone or lies below one.
func (g *Graph) purgeable(id NodeID) bool {
	for {
		n, ok := g.nodes[id]
		if !ok {
			return false
		}
		if n.deleted {
			return true
		}
		p, ok := g.parents[id]
		if !ok {
			return false
		}
		id = p
	}
}

func removeID(ids []NodeID, id NodeID) []NodeID {
	out := make([]NodeID, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
