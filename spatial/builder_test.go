package spatial

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"opusgraph/graph"
)

func sampleGraph(t *testing.T) (*graph.Graph, map[string]graph.NodeID) {
	t.Helper()
	g := graph.New("Song")
	ids := map[string]graph.NodeID{"root": g.Root()}

	add := func(name string, bounds graph.Area) {
		id, err := g.AddChannel(name, graph.WithBounds(bounds))
		if err != nil {
			t.Fatalf("AddChannel: %v", err)
		}
		ids[name] = id
	}
	region := func(key, channel string, bounds graph.Area) {
		id, err := g.AddRegion(ids[channel], bounds)
		if err != nil {
			t.Fatalf("AddRegion: %v", err)
		}
		ids[key] = id
	}

	add("Drums", graph.Rect(0, 0, 2000, 100))
	add("Bass", graph.Rect(0, 100, 2000, 100))
	region("d1", "Drums", graph.Rect(0, 10, 1000, 10))
	region("d2", "Drums", graph.Rect(1000, 10, 500, 10))
	region("b1", "Bass", graph.Rect(250, 20, 300, 40))
	return g, ids
}

func TestBuild_EntryPerLiveNode(t *testing.T) {
	g, ids := sampleGraph(t)
	if err := g.DeleteNode(ids["d2"]); err != nil {
		t.Fatal(err)
	}

	v := g.Snapshot()
	ix, err := Build(v, DefaultConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ix.Len() != v.Len() || ix.Len() != 5 {
		t.Errorf("index has %d entries, snapshot %d", ix.Len(), v.Len())
	}
	if _, ok := ix.Lookup(ids["d2"]); ok {
		t.Error("tombstoned region indexed")
	}
}

func TestBuild_AbsoluteAreas(t *testing.T) {
	g, ids := sampleGraph(t)
	ix, err := Build(g.Snapshot(), DefaultConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tests := []struct {
		key  string
		want graph.Area
	}{
		{"root", graph.Rect(0, 0, 0, 0)},
		{"Drums", graph.Rect(0, 0, 2000, 100)},
		{"Bass", graph.Rect(0, 100, 2000, 100)},
		{"d1", graph.Rect(0, 10, 1000, 10)},
		{"d2", graph.Rect(1000, 10, 500, 10)},
		{"b1", graph.Rect(250, 120, 300, 40)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			e, ok := ix.Lookup(ids[tt.key])
			if !ok {
				t.Fatal("missing entry")
			}
			if e.Area != tt.want {
				t.Errorf("area = %v, want %v", e.Area, tt.want)
			}
		})
	}

	if got := ix.Bounds(); got != graph.Rect(0, 0, 2000, 200) {
		t.Errorf("bounds = %v", got)
	}
}

func TestBuild_AbsoluteAreaIsSumOfOrigins(t *testing.T) {
	g := graph.New("Offsets")
	ch, err := g.AddChannel("Lead", graph.WithBounds(graph.Rect(17, 33, 500, 500)))
	if err != nil {
		t.Fatal(err)
	}
	r, err := g.AddRegion(ch, graph.Rect(5, 7, 11, 13))
	if err != nil {
		t.Fatal(err)
	}

	ix, err := Build(g.Snapshot(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	e, _ := ix.Lookup(r)
	if e.Area != graph.Rect(22, 40, 11, 13) {
		t.Errorf("area = %v", e.Area)
	}
	if e.Parent != ch || e.Depth != 2 || e.Kind != graph.KindRegion {
		t.Errorf("entry = %+v", e)
	}
}

func TestBuild_RootOnly(t *testing.T) {
	g := graph.New("Empty")
	ix, err := Build(g.Snapshot(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 1 || ix.Bounds() != (graph.Area{}) {
		t.Errorf("len %d bounds %v", ix.Len(), ix.Bounds())
	}
}

func TestBuild_DegenerateStackedNodes(t *testing.T) {
	g := graph.New("Stacked")
	ch, err := g.AddChannel("Pile")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		if _, err := g.AddRegion(ch, graph.Rect(0, 0, 0, 0)); err != nil {
			t.Fatal(err)
		}
	}

	ix, err := Build(g.Snapshot(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if ix.Depth() != 0 {
		t.Errorf("zero-size bounds should never split, depth %d", ix.Depth())
	}
	if hits := ix.QueryPoint(0, 0); len(hits) != 502 {
		t.Errorf("expected every node at the origin, got %d", len(hits))
	}
}

func TestBuild_ManyRegionsSplitAndQuery(t *testing.T) {
	g := graph.New("Grid")
	ch, err := g.AddChannel("Grid", graph.WithBounds(graph.Rect(0, 0, 6400, 640)))
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < 10; row++ {
		for col := 0; col < 50; col++ {
			bounds := graph.Rect(float64(col)*128, float64(row)*64, 100, 50)
			if _, err := g.AddRegion(ch, bounds); err != nil {
				t.Fatal(err)
			}
		}
	}

	ix, err := Build(g.Snapshot(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if ix.Depth() == 0 {
		t.Error("expected the tree to split")
	}

	hits := ix.QueryPoint(130, 70)
	// root has no area there; channel and the region at row 1 col 1.
	if len(hits) != 2 {
		t.Fatalf("QueryPoint hits = %v", hits)
	}
	top, ok := ix.HitTest(130, 70)
	if !ok || top.Kind != graph.KindRegion || top.Area != graph.Rect(128, 64, 100, 50) {
		t.Errorf("HitTest = %+v", top)
	}

	inArea := ix.QueryArea(graph.Rect(0, 0, 250, 60))
	regions := 0
	for _, e := range inArea {
		if e.Kind == graph.KindRegion {
			regions++
		}
	}
	if regions != 2 {
		t.Errorf("QueryArea found %d regions, want 2", regions)
	}

	brute := 0
	for _, e := range ix.Entries() {
		if e.Area.ContainsPoint(3000, 300) {
			brute++
		}
	}
	if got := len(ix.QueryPoint(3000, 300)); got != brute {
		t.Errorf("QueryPoint = %d, brute force = %d", got, brute)
	}
}

func TestHitTest_Miss(t *testing.T) {
	g, _ := sampleGraph(t)
	ix, err := Build(g.Snapshot(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ix.HitTest(-50, -50); ok {
		t.Error("expected no hit outside the bounds")
	}
}

// fakeTree lets tests describe snapshots the real graph can never produce.
type fakeTree struct {
	root     graph.NodeID
	nodes    map[graph.NodeID]graph.Node
	children map[graph.NodeID][]graph.NodeID
	size     int
}

func (f *fakeTree) Root() graph.NodeID                      { return f.root }
func (f *fakeTree) Children(id graph.NodeID) []graph.NodeID { return f.children[id] }
func (f *fakeTree) Len() int                                { return f.size }

func (f *fakeTree) Node(id graph.NodeID) (graph.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

func newFakeTree() (*fakeTree, graph.NodeID, graph.NodeID, graph.NodeID) {
	root, ch, r := uuid.New(), uuid.New(), uuid.New()
	f := &fakeTree{
		root: root,
		nodes: map[graph.NodeID]graph.Node{
			root: {ID: root, Kind: graph.KindComposition},
			ch:   {ID: ch, Kind: graph.KindChannel, Bounds: graph.Rect(0, 0, 10, 10)},
			r:    {ID: r, Kind: graph.KindRegion, Bounds: graph.Rect(1, 1, 1, 1)},
		},
		children: map[graph.NodeID][]graph.NodeID{
			root: {ch},
			ch:   {r},
		},
		size: 3,
	}
	return f, root, ch, r
}

func TestBuild_InternalConsistency(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fakeTree, root, ch, r graph.NodeID)
		node   func(root, ch, r graph.NodeID) graph.NodeID
	}{
		{
			name:   "duplicate edge",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) { f.children[ch] = []graph.NodeID{r, r} },
			node:   func(root, ch, r graph.NodeID) graph.NodeID { return r },
		},
		{
			name: "cycle",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) {
				other := uuid.New()
				f.nodes[other] = graph.Node{ID: other, Kind: graph.KindChannel}
				f.children[root] = []graph.NodeID{ch, other}
				f.children[r] = []graph.NodeID{ch}
				f.size = 4
			},
			node: func(root, ch, r graph.NodeID) graph.NodeID { return ch },
		},
		{
			name:   "count mismatch",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) { f.size = 7 },
			node:   func(root, ch, r graph.NodeID) graph.NodeID { return root },
		},
		{
			name: "dangling edge",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) {
				delete(f.nodes, r)
			},
			node: func(root, ch, r graph.NodeID) graph.NodeID { return r },
		},
		{
			name: "illegal edge",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) {
				f.children[root] = []graph.NodeID{ch, r}
				f.children[ch] = nil
			},
			node: func(root, ch, r graph.NodeID) graph.NodeID { return r },
		},
		{
			name: "tombstone in snapshot",
			mutate: func(f *fakeTree, root, ch, r graph.NodeID) {
				n := f.nodes[r]
				n.Deleted = true
				f.nodes[r] = n
			},
			node: func(root, ch, r graph.NodeID) graph.NodeID { return r },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, root, ch, r := newFakeTree()
			tt.mutate(f, root, ch, r)

			ix, err := Build(f, DefaultConfig())
			if ix != nil {
				t.Error("no index may be returned on a consistency failure")
			}
			var ice *InternalConsistencyError
			if !errors.As(err, &ice) {
				t.Fatalf("expected InternalConsistencyError, got %v", err)
			}
			if want := tt.node(root, ch, r); ice.Node != want {
				t.Errorf("error names node %s, want %s", ice.Node, want)
			}
			if ice.Expected != f.size || len(ice.Path) == 0 || ice.Path[0] != root {
				t.Errorf("missing diagnostics: %+v", ice)
			}
			if ice.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestBuild_AbsoluteAreaOverflow(t *testing.T) {
	g := graph.New("Song")
	ch, err := g.AddChannel("Far", graph.WithBounds(graph.Rect(1e308, 0, 10, 1)))
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	r, err := g.AddRegion(ch, graph.Rect(1e308, 0, 10, 1))
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}

	ix, err := Build(g.Snapshot(), DefaultConfig())
	if ix != nil {
		t.Error("no index may be returned for an unrepresentable layout")
	}
	var ice *InternalConsistencyError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InternalConsistencyError, got %v", err)
	}
	if ice.Node != r {
		t.Errorf("error names node %s, want region %s", ice.Node, r)
	}
	if !strings.Contains(ice.Reason, "absolute area") {
		t.Errorf("reason = %q", ice.Reason)
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{MaxDepth: 3}.withDefaults()
	if c.MaxDepth != 3 || c.MinQuadWidth != DefaultMinQuadWidth || c.MaxEntriesPerQuad != DefaultMaxEntriesPerQuad || c.Logger == nil {
		t.Errorf("withDefaults = %+v", c)
	}
}

func ExampleBuild() {
	g := graph.New("Song")
	ch, _ := g.AddChannel("Drums", graph.WithBounds(graph.Rect(0, 100, 1000, 50)))
	r, _ := g.AddRegion(ch, graph.Rect(10, 5, 200, 10))

	ix, _ := Build(g.Snapshot(), DefaultConfig())
	e, _ := ix.Lookup(r)
	fmt.Println(ix.Len(), e.Area)
	// Output: 3 [10,105 200x10]
}
