package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"opusgraph/notes"
)

type recorder struct {
	events []Event
}

func (r *recorder) handle(ev Event) { r.events = append(r.events, ev) }

func newTestGraph(t *testing.T) (*Graph, *recorder) {
	t.Helper()
	g := New("Test Song")
	rec := &recorder{}
	g.Subscribe(rec.handle)
	return g, rec
}

func mustChannel(t *testing.T, g *Graph, name string, opts ...NodeOption) NodeID {
	t.Helper()
	id, err := g.AddChannel(name, opts...)
	if err != nil {
		t.Fatalf("AddChannel(%q): %v", name, err)
	}
	return id
}

func mustRegion(t *testing.T, g *Graph, channel NodeID, bounds Area, opts ...NodeOption) NodeID {
	t.Helper()
	id, err := g.AddRegion(channel, bounds, opts...)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	return id
}

func TestNew(t *testing.T) {
	g := New("Song")

	if g.Len() != 1 {
		t.Errorf("expected only the root, got %d nodes", g.Len())
	}
	root, err := g.Node(g.Root())
	if err != nil {
		t.Fatalf("root lookup: %v", err)
	}
	if root.Kind != KindComposition || root.Name != "Song" {
		t.Errorf("unexpected root: %+v", root)
	}
	if g.Time().TicksPerQuarter != DefaultTicksPerQuarter {
		t.Errorf("expected default resolution, got %d", g.Time().TicksPerQuarter)
	}
}

func TestAddChannel_DuplicateName(t *testing.T) {
	g, rec := newTestGraph(t)

	mustChannel(t, g, "Drums")
	_, err := g.AddChannel("Drums")

	var dup *DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateNameError, got %v", err)
	}
	if dup.Name != "Drums" {
		t.Errorf("error names %q", dup.Name)
	}
	if n := len(g.Snapshot().Channels()); n != 1 {
		t.Errorf("expected 1 channel, got %d", n)
	}
	if len(rec.events) != 1 {
		t.Errorf("failed add must not emit events, got %d", len(rec.events))
	}
}

func TestAddChannel_NameReusableAfterDelete(t *testing.T) {
	g, _ := newTestGraph(t)

	first := mustChannel(t, g, "Bass")
	if err := g.DeleteNode(first); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := g.AddChannel("Bass"); err != nil {
		t.Errorf("name of a deleted channel should be reusable: %v", err)
	}
}

func TestAddChannel_Invalid(t *testing.T) {
	g, _ := newTestGraph(t)

	if _, err := g.AddChannel(""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if _, err := g.AddChannel("X", WithBounds(Rect(0, 0, -1, 5))); !errors.Is(err, ErrInvalidArea) {
		t.Errorf("expected ErrInvalidArea, got %v", err)
	}
	if _, err := g.AddChannel("Y", WithID(g.Root())); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("failed mutations changed the graph: %d nodes", g.Len())
	}
}

func TestAddRegion(t *testing.T) {
	g, rec := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")

	r := mustRegion(t, g, ch, Rect(0, 0, 1000, 10), WithName("intro"))

	n, err := g.Node(r)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	region, ok := n.Payload.(Region)
	if !ok {
		t.Fatalf("payload is %T", n.Payload)
	}
	if region.TimeSignature != CommonTime {
		t.Errorf("expected 4/4 default, got %v", region.TimeSignature)
	}
	if n.Name != "intro" || n.Bounds != Rect(0, 0, 1000, 10) {
		t.Errorf("unexpected node %+v", n)
	}
	if p, _ := g.Parent(r); p != ch {
		t.Errorf("parent = %s, want %s", p, ch)
	}

	want := NodeAdded{Parent: ch, Node: r, Kind: KindRegion}
	if last := rec.events[len(rec.events)-1]; last != want {
		t.Errorf("last event = %#v, want %#v", last, want)
	}
}

func TestAddRegion_UnknownChannel(t *testing.T) {
	g, _ := newTestGraph(t)
	ch := mustChannel(t, g, "Keys")
	r := mustRegion(t, g, ch, Rect(0, 0, 10, 10))

	tests := []struct {
		name   string
		target NodeID
	}{
		{"random id", uuid.New()},
		{"root is not a channel", g.Root()},
		{"region is not a channel", r},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := g.Len()
			_, err := g.AddRegion(tt.target, Rect(0, 0, 1, 1))
			var unknown *UnknownNodeError
			if !errors.As(err, &unknown) {
				t.Fatalf("expected UnknownNodeError, got %v", err)
			}
			if g.Len() != before {
				t.Error("graph changed on error")
			}
		})
	}

	if err := g.DeleteNode(ch); err != nil {
		t.Fatal(err)
	}
	var unknown *UnknownNodeError
	if _, err := g.AddRegion(ch, Rect(0, 0, 1, 1)); !errors.As(err, &unknown) {
		t.Errorf("expected UnknownNodeError for deleted channel, got %v", err)
	}
}

func TestAddRegion_InvalidSignatures(t *testing.T) {
	g, _ := newTestGraph(t)
	ch := mustChannel(t, g, "Lead")

	if _, err := g.AddRegion(ch, Rect(0, 0, 1, 1), WithTimeSignature(TimeSignature{0, 4})); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := g.AddRegion(ch, Rect(0, 0, 1, 1), WithKeySignature(KeySignature{Fifths: 8})); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := g.AddRegion(ch, Rect(0, 0, math.NaN(), 1)); !errors.Is(err, ErrInvalidArea) {
		t.Errorf("expected ErrInvalidArea, got %v", err)
	}
}

func TestDeleteNode_ChannelWithRegions(t *testing.T) {
	g, rec := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")
	r1 := mustRegion(t, g, ch, Rect(0, 0, 100, 10))
	r2 := mustRegion(t, g, ch, Rect(100, 0, 100, 10))
	other := mustChannel(t, g, "Bass")
	rec.events = nil

	if err := g.DeleteNode(ch); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}

	want := []Event{
		NodeRemoved{Parent: g.Root(), Node: ch, Kind: KindChannel},
		NodeRemoved{Parent: ch, Node: r1, Kind: KindRegion},
		NodeRemoved{Parent: ch, Node: r2, Kind: KindRegion},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(rec.events), len(want), rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, rec.events[i], want[i])
		}
	}

	for _, id := range []NodeID{ch, r1, r2} {
		n, err := g.Node(id)
		if err != nil {
			t.Fatalf("tombstoned node %s should stay addressable: %v", id, err)
		}
		if !n.Deleted {
			t.Errorf("node %s not tombstoned", id)
		}
	}
	if n, _ := g.Node(other); n.Deleted {
		t.Error("sibling channel was tombstoned")
	}
	if g.Len() != 2 {
		t.Errorf("expected root + Bass live, got %d", g.Len())
	}
}

func TestDeleteNode_Errors(t *testing.T) {
	g, rec := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")
	if err := g.DeleteNode(ch); err != nil {
		t.Fatal(err)
	}
	rec.events = nil

	var unknown *UnknownNodeError
	if err := g.DeleteNode(ch); !errors.As(err, &unknown) {
		t.Errorf("second delete: expected UnknownNodeError, got %v", err)
	}
	if err := g.DeleteNode(uuid.New()); !errors.As(err, &unknown) {
		t.Errorf("unknown id: expected UnknownNodeError, got %v", err)
	}
	if err := g.DeleteNode(g.Root()); !errors.Is(err, ErrRootNode) {
		t.Errorf("root: expected ErrRootNode, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("failed deletes emitted %d events", len(rec.events))
	}
}

func TestRestoreNode(t *testing.T) {
	g, rec := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")
	r1 := mustRegion(t, g, ch, Rect(0, 0, 10, 10))
	r2 := mustRegion(t, g, ch, Rect(10, 0, 10, 10))

	// r2 is deleted on its own first, so restoring the channel leaves it
	// deleted.
	if err := g.DeleteNode(r2); err != nil {
		t.Fatal(err)
	}
	if err := g.DeleteNode(ch); err != nil {
		t.Fatal(err)
	}
	rec.events = nil

	if err := g.RestoreNode(r1); !errors.Is(err, ErrNotRestorable) {
		t.Errorf("restoring a non-root of deletion: got %v", err)
	}
	if err := g.RestoreNode(ch); err != nil {
		t.Fatalf("RestoreNode: %v", err)
	}

	want := []Event{
		NodeAdded{Parent: g.Root(), Node: ch, Kind: KindChannel},
		NodeAdded{Parent: ch, Node: r1, Kind: KindRegion},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("got %#v", rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, rec.events[i], want[i])
		}
	}
	if n, _ := g.Node(r2); !n.Deleted {
		t.Error("separately deleted region should stay deleted")
	}
	if err := g.RestoreNode(r2); err != nil {
		t.Errorf("restoring region under live channel: %v", err)
	}
}

func TestRestoreNode_NameTaken(t *testing.T) {
	g, _ := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")
	if err := g.DeleteNode(ch); err != nil {
		t.Fatal(err)
	}
	mustChannel(t, g, "Drums")

	var dup *DuplicateNameError
	if err := g.RestoreNode(ch); !errors.As(err, &dup) {
		t.Errorf("expected DuplicateNameError, got %v", err)
	}
	if n, _ := g.Node(ch); !n.Deleted {
		t.Error("failed restore changed the node")
	}
}

func TestSetBounds_KeepsIdentity(t *testing.T) {
	g, rec := newTestGraph(t)
	ch := mustChannel(t, g, "Drums")
	r := mustRegion(t, g, ch, Rect(0, 0, 10, 10))
	set, _ := g.Notes(r)
	rec.events = nil

	if err := g.SetBounds(r, Rect(5, 5, 20, 20)); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	n, _ := g.Node(r)
	if n.ID != r || n.Bounds != Rect(5, 5, 20, 20) {
		t.Errorf("unexpected node after SetBounds: %+v", n)
	}
	if again, _ := g.Notes(r); again != set {
		t.Error("note set identity changed")
	}
	if len(rec.events) != 0 {
		t.Error("SetBounds should not emit structural events")
	}

	if err := g.SetBounds(g.Root(), Rect(0, 0, 1, 1)); !errors.Is(err, ErrWrongKind) {
		t.Errorf("root bounds: expected ErrWrongKind, got %v", err)
	}
	if err := g.SetBounds(r, Rect(0, 0, 1, -1)); !errors.Is(err, ErrInvalidArea) {
		t.Errorf("expected ErrInvalidArea, got %v", err)
	}
	if n, _ := g.Node(r); n.Bounds != Rect(5, 5, 20, 20) {
		t.Error("failed SetBounds changed the node")
	}
}

func TestSetName(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustChannel(t, g, "A")
	mustChannel(t, g, "B")

	var dup *DuplicateNameError
	if err := g.SetName(a, "B"); !errors.As(err, &dup) {
		t.Errorf("expected DuplicateNameError, got %v", err)
	}
	if err := g.SetName(a, "A"); err != nil {
		t.Errorf("renaming to own name: %v", err)
	}
	if err := g.SetName(g.Root(), "Renamed"); err != nil {
		t.Fatal(err)
	}
	if g.Snapshot().Name() != "Renamed" {
		t.Error("composition rename not visible")
	}
}

func TestChannelAndRegionSetters(t *testing.T) {
	g, _ := newTestGraph(t)
	ch := mustChannel(t, g, "Strings")
	r := mustRegion(t, g, ch, Rect(0, 0, 10, 10))

	if err := g.SetColor(ch, "#336699"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetColor(r, "#000000"); err == nil {
		t.Error("SetColor on a region should fail")
	}
	if err := g.SetTimeSignature(r, TimeSignature{6, 8}); err != nil {
		t.Fatal(err)
	}
	if err := g.SetKeySignature(r, KeySignature{Fifths: -3, Minor: true}); err != nil {
		t.Fatal(err)
	}

	chNode, _ := g.Node(ch)
	if chNode.Payload.(Channel).Color != "#336699" {
		t.Errorf("color = %v", chNode.Payload)
	}
	rNode, _ := g.Node(r)
	region := rNode.Payload.(Region)
	if region.TimeSignature.String() != "6/8" || region.KeySignature.Mode() != "minor" {
		t.Errorf("region = %+v", region)
	}
}

func TestMetadata_LastWriterWins(t *testing.T) {
	g := New("Song")

	if err := g.SetMetadata("composer", "A"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetMetadata("year", "1999"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetMetadata("composer", "B"); err != nil {
		t.Fatal(err)
	}

	md := g.Metadata()
	if v, _ := md.Get("composer"); v != "B" {
		t.Errorf("composer = %q", v)
	}
	entries := md.Entries()
	if len(entries) != 2 || entries[0].Name != "composer" || entries[1].Name != "year" {
		t.Errorf("replace should keep position: %v", entries)
	}

	g.RemoveMetadata("composer")
	if _, ok := g.Metadata().Get("composer"); ok {
		t.Error("composer still present")
	}
	if err := g.SetMetadata("", "x"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestMetadata_DuplicateNamesResolveToLast(t *testing.T) {
	md := NewMetadata(MetadataEntry{"k", "1"}, MetadataEntry{"k", "2"})
	if v, _ := md.Get("k"); v != "2" {
		t.Errorf("Get = %q, want last entry", v)
	}
	md2 := md.With("k", "3")
	if md2.Entries()[0].Value != "1" || md2.Entries()[1].Value != "3" {
		t.Errorf("With should replace the last match: %v", md2.Entries())
	}
	if v, _ := md.Get("k"); v != "2" {
		t.Error("With modified the receiver")
	}
}

func TestTimeConfig_RepairsInvalid(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{480, 480},
		{1, 1},
		{0, 1},
		{-96, 1},
	}
	for _, tt := range tests {
		if got := NewTimeConfig(tt.in).TicksPerQuarter; got != tt.want {
			t.Errorf("NewTimeConfig(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	g := New("Song", WithTimeConfig(TimeConfig{TicksPerQuarter: -1}))
	if g.Time().TicksPerQuarter != 1 {
		t.Errorf("option not repaired: %d", g.Time().TicksPerQuarter)
	}
	g.SetTimeConfig(TimeConfig{TicksPerQuarter: 960})
	if g.Time().TicksPerQuarter != 960 {
		t.Errorf("SetTimeConfig: %d", g.Time().TicksPerQuarter)
	}
}

func TestNotes_RegionOnly(t *testing.T) {
	g, _ := newTestGraph(t)
	ch := mustChannel(t, g, "Piano")
	r := mustRegion(t, g, ch, Rect(0, 0, 10, 10), WithNotes(notes.MustNew(60, 0, 480)))

	set, err := g.Notes(r)
	if err != nil {
		t.Fatal(err)
	}
	if set.Read().Len() != 1 {
		t.Errorf("seeded notes missing")
	}
	if _, err := g.Notes(ch); err == nil {
		t.Error("channels have no note set")
	}
}

func TestSubscribe_MultipleAndCancel(t *testing.T) {
	g := New("Song")
	var a, b recorder
	cancelA := g.Subscribe(a.handle)
	g.Subscribe(b.handle)

	mustChannel(t, g, "One")
	cancelA()
	mustChannel(t, g, "Two")

	if len(a.events) != 1 {
		t.Errorf("cancelled subscriber got %d events", len(a.events))
	}
	if len(b.events) != 2 {
		t.Errorf("subscriber got %d events", len(b.events))
	}
}

func TestSubscribe_HandlerCanReadGraph(t *testing.T) {
	g := New("Song")
	var seen []string
	g.Subscribe(func(ev Event) {
		switch e := ev.(type) {
		case NodeAdded:
			n, err := g.Node(e.Node)
			if err != nil {
				t.Errorf("handler lookup: %v", err)
				return
			}
			seen = append(seen, "+"+n.Name)
		case NodeRemoved:
			seen = append(seen, "-"+e.Kind.String())
		}
	})

	ch := mustChannel(t, g, "Drums")
	if err := g.DeleteNode(ch); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "+Drums" || seen[1] != "-Channel" {
		t.Errorf("seen = %v", seen)
	}
}

func TestValidEdge(t *testing.T) {
	kinds := []NodeKind{KindComposition, KindChannel, KindRegion}
	legal := 0
	for _, src := range kinds {
		for _, dst := range kinds {
			if ValidEdge(src, dst) {
				legal++
			}
		}
	}
	if legal != 2 || !ValidEdge(KindComposition, KindChannel) || !ValidEdge(KindChannel, KindRegion) {
		t.Error("only Composition->Channel and Channel->Region are legal")
	}
}

func TestArea(t *testing.T) {
	a := Rect(10, 20, 30, 40)
	if a.MaxX() != 40 || a.MaxY() != 60 {
		t.Errorf("max = %v,%v", a.MaxX(), a.MaxY())
	}
	if !a.ContainsPoint(10, 20) || !a.ContainsPoint(40, 60) || a.ContainsPoint(41, 20) {
		t.Error("ContainsPoint edges wrong")
	}
	u := a.Union(Rect(0, 0, 5, 5))
	if u != Rect(0, 0, 40, 60) {
		t.Errorf("Union = %v", u)
	}
	if !u.Contains(a) || a.Contains(u) {
		t.Error("Contains wrong")
	}
	if !a.Intersects(Rect(40, 60, 1, 1)) || a.Intersects(Rect(41, 0, 1, 1)) {
		t.Error("Intersects wrong")
	}
	if a.Translate(1, 2) != Rect(11, 22, 30, 40) {
		t.Error("Translate wrong")
	}
}

func TestArea_FarEdgeMustBeFinite(t *testing.T) {
	tests := []Area{
		Rect(1e308, 0, 1e308, 1),
		Rect(0, -1e308, 1, -1e308),
		Rect(0, 1e308, 1, math.MaxFloat64),
	}
	for _, a := range tests {
		if err := a.Validate(); !errors.Is(err, ErrInvalidArea) {
			t.Errorf("Validate(%v) = %v, want ErrInvalidArea", a, err)
		}
	}

	g := New("Song")
	if _, err := g.AddChannel("Far", WithBounds(Rect(1e308, 0, 1e308, 1))); !errors.Is(err, ErrInvalidArea) {
		t.Errorf("AddChannel accepted an overflowing area: %v", err)
	}
	if err := Rect(1e308, 0, 10, 1).Validate(); err != nil {
		t.Errorf("large finite area rejected: %v", err)
	}
}
