package scorexml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"opusgraph/codec"
	"opusgraph/graph"
	"opusgraph/notes"
)

// document is what the element tree says before it is applied to a graph.
type document struct {
	id       graph.NodeID
	name     string
	tpq      int
	metadata []graph.MetadataEntry
	channels []channelDecl
}

type channelDecl struct {
	loc     codec.Location
	valid   bool
	id      graph.NodeID
	name    string
	color   string
	bounds  graph.Area
	regions []regionDecl
}

type regionDecl struct {
	loc    codec.Location
	valid  bool
	id     graph.NodeID
	name   string
	bounds graph.Area
	ts     graph.TimeSignature
	ks     graph.KeySignature
	notes  []notes.Note
}

// handler parses one document. Problems inside well-formed XML are
// collected and parsing continues; a syntax error ends it.
type handler struct {
	version codec.Version
	ns      string
	in      *codec.Input
	dec     *xml.Decoder
	errs    []*codec.ParseError
	broken  bool
}

func (h *handler) Parse(in *codec.Input) (*graph.Graph, []*codec.ParseError) {
	h.in = in
	h.ns = Namespace(h.version)
	h.dec = xml.NewDecoder(bytes.NewReader(in.Data))

	doc := h.readDocument()
	if h.broken || doc == nil {
		return nil, h.errs
	}
	g := h.build(doc)
	if len(h.errs) > 0 {
		return nil, h.errs
	}
	return g, nil
}

func (h *handler) pos() codec.Location {
	line, col := h.dec.InputPos()
	return h.in.Loc(line, col)
}

func (h *handler) errorf(loc codec.Location, format string, args ...any) {
	h.errs = append(h.errs, codec.Errorf(loc, format, args...))
}

func (h *handler) wrap(loc codec.Location, err error, format string, args ...any) {
	h.errs = append(h.errs, codec.Wrap(loc, err, fmt.Sprintf(format, args...)))
}

// token returns the next token. Any failure, including an early end of
// input, marks the document broken.
func (h *handler) token() (xml.Token, bool) {
	if h.broken {
		return nil, false
	}
	tok, err := h.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			h.errorf(h.pos(), "malformed document: unexpected end of input")
		} else {
			h.wrap(h.pos(), err, "malformed document")
		}
		h.broken = true
		return nil, false
	}
	return tok, true
}

func (h *handler) skip() {
	if h.broken {
		return
	}
	if err := h.dec.Skip(); err != nil {
		h.wrap(h.pos(), err, "malformed document")
		h.broken = true
	}
}

func (h *handler) unexpected(se xml.StartElement, loc codec.Location, parent string) {
	h.errorf(loc, "unexpected element <%s> in <%s>", se.Name.Local, parent)
	h.skip()
}

// children walks the content of the element named parent up to its end tag,
// calling fn for every child element in this document's namespace. fn must
// consume the child through its end tag.
func (h *handler) children(parent string, fn func(se xml.StartElement, loc codec.Location)) {
	for {
		tok, ok := h.token()
		if !ok {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			loc := h.pos()
			if t.Name.Space != h.ns {
				h.unexpected(t, loc, parent)
				continue
			}
			fn(t, loc)
		case xml.EndElement:
			return
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				h.errorf(h.pos(), "unexpected text in <%s>", parent)
			}
		}
	}
}

// leaf consumes an element that has no content.
func (h *handler) leaf(name string) {
	h.children(name, func(se xml.StartElement, loc codec.Location) {
		h.unexpected(se, loc, name)
	})
}

func (h *handler) readDocument() *document {
	for {
		tok, ok := h.token()
		if !ok {
			return nil
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		doc := h.readComposition(se, h.pos())
		h.readTrailer()
		return doc
	}
}

func (h *handler) readTrailer() {
	for !h.broken {
		tok, err := h.dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.wrap(h.pos(), err, "malformed document")
			h.broken = true
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			h.errorf(h.pos(), "content after the <%s> element", RootElement)
			h.skip()
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				h.errorf(h.pos(), "content after the <%s> element", RootElement)
			}
		}
	}
}

func (h *handler) readComposition(se xml.StartElement, loc codec.Location) *document {
	doc := &document{tpq: graph.DefaultTicksPerQuarter}
	if se.Name.Space != h.ns || se.Name.Local != RootElement {
		h.errorf(loc, "root element is {%s}%s, want {%s}%s", se.Name.Space, se.Name.Local, h.ns, RootElement)
		h.skip()
		return doc
	}
	a := h.attrs(se, loc)
	doc.id = a.id("id")
	doc.name = a.str("name", false)
	a.done()

	var sawTiming bool
	h.children(RootElement, func(child xml.StartElement, loc codec.Location) {
		switch child.Name.Local {
		case "timing":
			if sawTiming {
				h.errorf(loc, "duplicate <timing>")
			}
			sawTiming = true
			a := h.attrs(child, loc)
			doc.tpq = a.int("ticks-per-quarter", true, graph.DefaultTicksPerQuarter)
			a.done()
			h.leaf("timing")
		case "metadata":
			doc.metadata = append(doc.metadata, h.readMetadata()...)
		case "channel":
			doc.channels = append(doc.channels, h.readChannel(child, loc))
		default:
			h.unexpected(child, loc, RootElement)
		}
	})
	return doc
}

func (h *handler) readMetadata() []graph.MetadataEntry {
	var out []graph.MetadataEntry
	h.children("metadata", func(child xml.StartElement, loc codec.Location) {
		if child.Name.Local != "entry" {
			h.unexpected(child, loc, "metadata")
			return
		}
		a := h.attrs(child, loc)
		name := a.str("name", true)
		value := a.str("value", false)
		a.done()
		h.leaf("entry")
		out = append(out, graph.MetadataEntry{Name: name, Value: value})
	})
	return out
}

func (h *handler) readChannel(se xml.StartElement, loc codec.Location) channelDecl {
	a := h.attrs(se, loc)
	ch := channelDecl{
		loc:    loc,
		id:     a.id("id"),
		name:   a.str("name", true),
		color:  a.str("color", false),
		bounds: a.area(),
	}
	ch.valid = a.done()

	h.children("channel", func(child xml.StartElement, loc codec.Location) {
		if child.Name.Local != "region" {
			h.unexpected(child, loc, "channel")
			return
		}
		ch.regions = append(ch.regions, h.readRegion(child, loc))
	})
	return ch
}

func (h *handler) readRegion(se xml.StartElement, loc codec.Location) regionDecl {
	a := h.attrs(se, loc)
	r := regionDecl{
		loc:    loc,
		id:     a.id("id"),
		name:   a.str("name", false),
		bounds: a.area(),
		ts:     graph.CommonTime,
	}
	r.valid = a.done()

	seen := make(map[string]bool)
	h.children("region", func(child xml.StartElement, loc codec.Location) {
		name := child.Name.Local
		switch name {
		case "time-signature", "key-signature", "notes":
			if seen[name] {
				h.errorf(loc, "duplicate <%s>", name)
			}
			seen[name] = true
		}

		switch {
		case name == "time-signature":
			a := h.attrs(child, loc)
			r.ts = graph.TimeSignature{
				Numerator:   a.int("numerator", true, 0),
				Denominator: a.int("denominator", true, 0),
			}
			a.done()
			h.leaf(name)
		case name == "key-signature":
			a := h.attrs(child, loc)
			r.ks.Fifths = a.int("fifths", true, 0)
			switch mode := a.str("mode", false); mode {
			case "", "major":
			case "minor":
				r.ks.Minor = true
			default:
				h.errorf(loc, "unknown key mode %q", mode)
			}
			a.done()
			h.leaf(name)
		case name == "note" && h.version == V1_0:
			if n, ok := h.readNote(child, loc); ok {
				r.notes = append(r.notes, n)
			}
		case name == "notes" && h.version == V1_1:
			r.notes = append(r.notes, h.readNoteList(child, loc)...)
		default:
			h.unexpected(child, loc, "region")
		}
	})
	return r
}

func (h *handler) readNote(se xml.StartElement, loc codec.Location) (notes.Note, bool) {
	a := h.attrs(se, loc)
	pitch := a.int("pitch", true, 0)
	start := a.int64("start")
	length := a.int64("length")
	ok := a.done()
	h.leaf("note")
	if !ok {
		return notes.Note{}, false
	}
	n, err := notes.New(pitch, start, length)
	if err != nil {
		h.wrap(loc, err, "note")
		return notes.Note{}, false
	}
	return n, true
}

func (h *handler) readNoteList(se xml.StartElement, loc codec.Location) []notes.Note {
	a := h.attrs(se, loc)
	count := a.int("count", true, 0)
	a.done()

	var text strings.Builder
	for done := false; !done; {
		tok, ok := h.token()
		if !ok {
			return nil
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			h.unexpected(t, h.pos(), "notes")
		case xml.EndElement:
			done = true
		}
	}

	var out []notes.Note
	fields := strings.Fields(text.String())
	for _, f := range fields {
		n, err := parseTriple(f)
		if err != nil {
			h.wrap(loc, err, "note %q", f)
			continue
		}
		out = append(out, n)
	}
	if len(fields) != count {
		h.errorf(loc, "notes count is %d but %d notes are listed", count, len(fields))
	}
	return out
}

func parseTriple(s string) (notes.Note, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return notes.Note{}, errors.New("want pitch:start:length")
	}
	pitch, err := strconv.Atoi(parts[0])
	if err != nil {
		return notes.Note{}, fmt.Errorf("pitch: %w", err)
	}
	start, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return notes.Note{}, fmt.Errorf("start: %w", err)
	}
	length, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return notes.Note{}, fmt.Errorf("length: %w", err)
	}
	return notes.New(pitch, start, length)
}

// build applies a document to a new graph. Graph rule violations, such as a
// duplicate channel name or an id used twice, become located errors.
func (h *handler) build(doc *document) *graph.Graph {
	g := graph.New(doc.name,
		graph.WithCompositionID(doc.id),
		graph.WithTimeConfig(graph.NewTimeConfig(doc.tpq)),
		graph.WithMetadata(graph.NewMetadata(doc.metadata...)),
	)
	for _, ch := range doc.channels {
		if !ch.valid {
			continue
		}
		id, err := g.AddChannel(ch.name,
			graph.WithID(ch.id),
			graph.WithColor(ch.color),
			graph.WithBounds(ch.bounds),
		)
		if err != nil {
			h.wrap(ch.loc, err, "channel %q", ch.name)
			continue
		}
		for _, r := range ch.regions {
			if !r.valid {
				continue
			}
			_, err := g.AddRegion(id, r.bounds,
				graph.WithID(r.id),
				graph.WithName(r.name),
				graph.WithTimeSignature(r.ts),
				graph.WithKeySignature(r.ks),
				graph.WithNotes(r.notes...),
			)
			if err != nil {
				h.wrap(r.loc, err, "region %s in channel %q", r.id, ch.name)
			}
		}
	}
	return g
}

// attrReader hands out an element's attributes and reports the ones nobody
// asked for.
type attrReader struct {
	h      *handler
	loc    codec.Location
	elem   string
	values map[string]string
	used   map[string]bool
	failed bool
}

func (h *handler) attrs(se xml.StartElement, loc codec.Location) *attrReader {
	a := &attrReader{
		h:      h,
		loc:    loc,
		elem:   se.Name.Local,
		values: make(map[string]string, len(se.Attr)),
		used:   make(map[string]bool, len(se.Attr)),
	}
	for _, at := range se.Attr {
		if at.Name.Space == "xmlns" || (at.Name.Space == "" && at.Name.Local == "xmlns") {
			continue
		}
		key := at.Name.Local
		if at.Name.Space != "" {
			key = at.Name.Space + ":" + at.Name.Local
		}
		a.values[key] = at.Value
	}
	return a
}

func (a *attrReader) fail(format string, args ...any) {
	a.failed = true
	a.h.errorf(a.loc, "<%s>: "+format, append([]any{a.elem}, args...)...)
}

func (a *attrReader) lookup(name string, required bool) (string, bool) {
	a.used[name] = true
	v, ok := a.values[name]
	if !ok && required {
		a.fail("missing attribute %q", name)
	}
	return v, ok
}

func (a *attrReader) str(name string, required bool) string {
	v, _ := a.lookup(name, required)
	return v
}

func (a *attrReader) int(name string, required bool, def int) int {
	v, ok := a.lookup(name, required)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		a.fail("attribute %q: %q is not an integer", name, v)
		return def
	}
	return n
}

func (a *attrReader) int64(name string) int64 {
	v, ok := a.lookup(name, true)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		a.fail("attribute %q: %q is not an integer", name, v)
		return 0
	}
	return n
}

func (a *attrReader) float(name string) float64 {
	v, ok := a.lookup(name, false)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		a.fail("attribute %q: %q is not a number", name, v)
		return 0
	}
	return f
}

func (a *attrReader) area() graph.Area {
	return graph.Area{
		X:      a.float("x"),
		Y:      a.float("y"),
		Width:  a.float("width"),
		Height: a.float("height"),
	}
}

func (a *attrReader) id(name string) graph.NodeID {
	v, ok := a.lookup(name, true)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(v)
	if err != nil || id == uuid.Nil {
		a.fail("attribute %q: %q is not a node id", name, v)
		return uuid.Nil
	}
	return id
}

// done reports unknown attributes and whether every read succeeded.
func (a *attrReader) done() bool {
	var unknown []string
	for k := range a.values {
		if !a.used[k] {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	for _, k := range unknown {
		a.fail("unknown attribute %q", k)
	}
	return !a.failed
}
