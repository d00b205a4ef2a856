// Package graph provides the composition document graph: an arena of typed
// nodes (composition, channels, regions) addressed by id, a separate edge
// table, a synchronous structural event stream and immutable snapshots.
package graph

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"opusgraph/notes"
)

// NodeID identifies a node for the lifetime of a document, including across
// save and load.
type NodeID = uuid.UUID

// NodeKind represents the type of a node.
type NodeKind int

const (
	KindComposition NodeKind = iota + 1
	KindChannel
	KindRegion
)

func (k NodeKind) String() string {
	switch k {
	case KindComposition:
		return "Composition"
	case KindChannel:
		return "Channel"
	case KindRegion:
		return "Region"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Edge is a directed parent -> child relation.
type Edge struct {
	Src NodeID
	Dst NodeID
}

// ValidEdge reports whether an edge from a src node to a dst node is legal.
// Only Composition -> Channel and Channel -> Region are.
func ValidEdge(src, dst NodeKind) bool {
	return (src == KindComposition && dst == KindChannel) ||
		(src == KindChannel && dst == KindRegion)
}

// Area is an axis-aligned rectangle. Channel and region areas are stored
// relative to their parent's origin.
type Area struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Rect is shorthand for an Area literal.
func Rect(x, y, width, height float64) Area {
	return Area{X: x, Y: y, Width: width, Height: height}
}

func (a Area) MinX() float64 { return a.X }
func (a Area) MinY() float64 { return a.Y }
func (a Area) MaxX() float64 { return a.X + a.Width }
func (a Area) MaxY() float64 { return a.Y + a.Height }

// Validate checks that all coordinates and both far edges are finite and
// the size is not negative.
func (a Area) Validate() error {
	for _, v := range [...]float64{a.X, a.Y, a.Width, a.Height, a.MaxX(), a.MaxY()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %v", ErrInvalidArea, a)
		}
	}
	if a.Width < 0 || a.Height < 0 {
		return fmt.Errorf("%w: negative size in %v", ErrInvalidArea, a)
	}
	return nil
}

// Translate returns the area moved by (dx, dy).
func (a Area) Translate(dx, dy float64) Area {
	return Area{X: a.X + dx, Y: a.Y + dy, Width: a.Width, Height: a.Height}
}

// Union returns the smallest area covering both a and b.
func (a Area) Union(b Area) Area {
	minX, minY := math.Min(a.MinX(), b.MinX()), math.Min(a.MinY(), b.MinY())
	maxX, maxY := math.Max(a.MaxX(), b.MaxX()), math.Max(a.MaxY(), b.MaxY())
	return Area{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// ContainsPoint reports whether (x, y) lies inside a, edges included.
func (a Area) ContainsPoint(x, y float64) bool {
	return x >= a.MinX() && x <= a.MaxX() && y >= a.MinY() && y <= a.MaxY()
}

// Contains reports whether b lies entirely inside a.
func (a Area) Contains(b Area) bool {
	return b.MinX() >= a.MinX() && b.MaxX() <= a.MaxX() &&
		b.MinY() >= a.MinY() && b.MaxY() <= a.MaxY()
}

// Intersects reports whether a and b overlap, touching edges included.
func (a Area) Intersects(b Area) bool {
	return a.MinX() <= b.MaxX() && b.MinX() <= a.MaxX() &&
		a.MinY() <= b.MaxY() && b.MinY() <= a.MaxY()
}

func (a Area) String() string {
	return fmt.Sprintf("[%g,%g %gx%g]", a.X, a.Y, a.Width, a.Height)
}

// MetadataEntry is one name/value pair of composition metadata.
type MetadataEntry struct {
	Name  string
	Value string
}

// Metadata is an ordered list of name/value pairs. It is a value type: the
// modifying methods return a new Metadata and leave the receiver untouched.
// Lookups resolve to the last entry carrying a name.
type Metadata struct {
	entries []MetadataEntry
}

// NewMetadata returns metadata holding entries in order. Duplicate names are
// kept as given.
func NewMetadata(entries ...MetadataEntry) Metadata {
	return Metadata{entries: slices.Clone(entries)}
}

// Len returns the number of entries.
func (m Metadata) Len() int { return len(m.entries) }

// Entries returns a copy of the entries in order.
func (m Metadata) Entries() []MetadataEntry { return slices.Clone(m.entries) }

// Get returns the value of the last entry named name.
func (m Metadata) Get(name string) (string, bool) {
	if i := m.lastIndex(name); i >= 0 {
		return m.entries[i].Value, true
	}
	return "", false
}

// With returns metadata where the last entry named name holds value, or with
// a new entry appended when none exists.
func (m Metadata) With(name, value string) Metadata {
	out := slices.Clone(m.entries)
	if i := m.lastIndex(name); i >= 0 {
		out[i].Value = value
	} else {
		out = append(out, MetadataEntry{Name: name, Value: value})
	}
	return Metadata{entries: out}
}

// Without returns metadata with every entry named name removed.
func (m Metadata) Without(name string) Metadata {
	out := make([]MetadataEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return Metadata{entries: out}
}

// Equal reports whether both hold the same entries in the same order.
func (m Metadata) Equal(other Metadata) bool {
	return slices.Equal(m.entries, other.entries)
}

func (m Metadata) lastIndex(name string) int {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Name == name {
			return i
		}
	}
	return -1
}

// TimeConfig holds the composition's tick resolution.
type TimeConfig struct {
	TicksPerQuarter int
}

// DefaultTicksPerQuarter is the resolution of a new composition.
const DefaultTicksPerQuarter = 480

// NewTimeConfig returns a time configuration. Non-positive resolutions are
// repaired to 1 instead of being rejected, so that damaged documents still
// load.
func NewTimeConfig(ticksPerQuarter int) TimeConfig {
	if ticksPerQuarter <= 0 {
		ticksPerQuarter = 1
	}
	return TimeConfig{TicksPerQuarter: ticksPerQuarter}
}

// TimeSignature is a region's meter.
type TimeSignature struct {
	Numerator   int
	Denominator int
}

// CommonTime is 4/4, the default meter of a new region.
var CommonTime = TimeSignature{Numerator: 4, Denominator: 4}

// Validate checks both parts are positive.
func (ts TimeSignature) Validate() error {
	if ts.Numerator < 1 || ts.Denominator < 1 {
		return fmt.Errorf("%w: time signature %d/%d", ErrInvalidSignature, ts.Numerator, ts.Denominator)
	}
	return nil
}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Numerator, ts.Denominator)
}

// KeySignature is a region's key as a position on the circle of fifths
// (-7 = seven flats, +7 = seven sharps) and a mode.
type KeySignature struct {
	Fifths int
	Minor  bool
}

// Validate checks the number of accidentals is in range.
func (ks KeySignature) Validate() error {
	if ks.Fifths < -7 || ks.Fifths > 7 {
		return fmt.Errorf("%w: key signature with %d fifths", ErrInvalidSignature, ks.Fifths)
	}
	return nil
}

// Mode returns "minor" or "major".
func (ks KeySignature) Mode() string {
	if ks.Minor {
		return "minor"
	}
	return "major"
}

// Node is an immutable copy of one node's state. The variant specific data
// is in Payload, which is always one of Composition, Channel or Region.
type Node struct {
	ID      NodeID
	Kind    NodeKind
	Name    string
	Bounds  Area
	Deleted bool
	Payload Payload
}

// Payload is the sealed set of node variants.
type Payload interface {
	payloadKind() NodeKind
}

// Composition is the root node's data.
type Composition struct {
	Metadata Metadata
	Time     TimeConfig
}

// Channel is a channel node's data.
type Channel struct {
	Color string
}

// Region is a region node's data. Notes is the region's note set as it was
// when the node was copied.
type Region struct {
	TimeSignature TimeSignature
	KeySignature  KeySignature
	Notes         *notes.Snapshot
}

func (Composition) payloadKind() NodeKind { return KindComposition }
func (Channel) payloadKind() NodeKind     { return KindChannel }
func (Region) payloadKind() NodeKind      { return KindRegion }

// Equal reports whether two nodes carry the same identity and content.
func (n Node) Equal(o Node) bool {
	if n.ID != o.ID || n.Kind != o.Kind || n.Name != o.Name || n.Bounds != o.Bounds || n.Deleted != o.Deleted {
		return false
	}
	switch p := n.Payload.(type) {
	case Composition:
		q, ok := o.Payload.(Composition)
		return ok && p.Time == q.Time && p.Metadata.Equal(q.Metadata)
	case Channel:
		q, ok := o.Payload.(Channel)
		return ok && p == q
	case Region:
		q, ok := o.Payload.(Region)
		return ok && p.TimeSignature == q.TimeSignature && p.KeySignature == q.KeySignature &&
			p.Notes.Equal(q.Notes)
	default:
		return o.Payload == nil && n.Payload == nil
	}
}
