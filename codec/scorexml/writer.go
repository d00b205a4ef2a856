package scorexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"opusgraph/codec"
	"opusgraph/graph"
)

const (
	indent       = "  "
	notesPerLine = 16
)

type writer struct {
	version      codec.Version
	compactNotes bool
}

type attr struct {
	name  string
	value string
}

// encoder builds the document in memory. Attribute order is fixed by the
// callers and text is escaped the same way every time, so equal views
// produce equal bytes.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (w *writer) Write(out io.Writer, v *graph.View) error {
	root, ok := v.Node(v.Root())
	if !ok {
		return fmt.Errorf("view has no composition root")
	}
	comp, _ := root.Payload.(graph.Composition)

	e := &encoder{}
	e.buf.WriteString(xml.Header)
	e.start(0, RootElement, false,
		attr{"xmlns", Namespace(w.version)},
		attr{"id", root.ID.String()},
		attr{"name", root.Name},
	)
	e.start(1, "timing", true, attr{"ticks-per-quarter", strconv.Itoa(comp.Time.TicksPerQuarter)})
	if entries := comp.Metadata.Entries(); len(entries) > 0 {
		e.start(1, "metadata", false)
		for _, m := range entries {
			e.start(2, "entry", true, attr{"name", m.Name}, attr{"value", m.Value})
		}
		e.end(1, "metadata")
	}
	for _, ch := range v.Channels() {
		w.writeChannel(e, v, ch)
	}
	e.end(0, RootElement)

	if e.err != nil {
		return e.err
	}
	_, err := out.Write(e.buf.Bytes())
	return err
}

func (w *writer) writeChannel(e *encoder, v *graph.View, ch graph.Node) {
	attrs := []attr{{"id", ch.ID.String()}, {"name", ch.Name}}
	if p, ok := ch.Payload.(graph.Channel); ok && p.Color != "" {
		attrs = append(attrs, attr{"color", p.Color})
	}
	attrs = append(attrs, areaAttrs(ch.Bounds)...)

	regions := v.Regions(ch.ID)
	if len(regions) == 0 {
		e.start(1, "channel", true, attrs...)
		return
	}
	e.start(1, "channel", false, attrs...)
	for _, r := range regions {
		w.writeRegion(e, r)
	}
	e.end(1, "channel")
}

func (w *writer) writeRegion(e *encoder, r graph.Node) {
	attrs := []attr{{"id", r.ID.String()}}
	if r.Name != "" {
		attrs = append(attrs, attr{"name", r.Name})
	}
	attrs = append(attrs, areaAttrs(r.Bounds)...)
	p, _ := r.Payload.(graph.Region)

	e.start(2, "region", false, attrs...)
	e.start(3, "time-signature", true,
		attr{"numerator", strconv.Itoa(p.TimeSignature.Numerator)},
		attr{"denominator", strconv.Itoa(p.TimeSignature.Denominator)},
	)
	e.start(3, "key-signature", true,
		attr{"fifths", strconv.Itoa(p.KeySignature.Fifths)},
		attr{"mode", p.KeySignature.Mode()},
	)

	ns := p.Notes.Notes()
	switch {
	case !w.compactNotes:
		for _, n := range ns {
			e.start(3, "note", true,
				attr{"pitch", strconv.Itoa(n.Pitch())},
				attr{"start", strconv.FormatInt(n.Start(), 10)},
				attr{"length", strconv.FormatInt(n.Length(), 10)},
			)
		}
	case len(ns) == 0:
		e.start(3, "notes", true, attr{"count", "0"})
	default:
		e.start(3, "notes", false, attr{"count", strconv.Itoa(len(ns))})
		for i, n := range ns {
			switch {
			case i == 0:
				e.pad(4)
			case i%notesPerLine == 0:
				e.buf.WriteByte('\n')
				e.pad(4)
			default:
				e.buf.WriteByte(' ')
			}
			fmt.Fprintf(&e.buf, "%d:%d:%d", n.Pitch(), n.Start(), n.Length())
		}
		e.buf.WriteByte('\n')
		e.end(3, "notes")
	}
	e.end(2, "region")
}

func areaAttrs(a graph.Area) []attr {
	return []attr{
		{"x", formatFloat(a.X)},
		{"y", formatFloat(a.Y)},
		{"width", formatFloat(a.Width)},
		{"height", formatFloat(a.Height)},
	}
}

// formatFloat writes the shortest text that parses back to f exactly.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (e *encoder) pad(depth int) {
	e.buf.WriteString(strings.Repeat(indent, depth))
}

func (e *encoder) start(depth int, name string, empty bool, attrs ...attr) {
	e.pad(depth)
	e.buf.WriteByte('<')
	e.buf.WriteString(name)
	for _, a := range attrs {
		e.buf.WriteByte(' ')
		e.buf.WriteString(a.name)
		e.buf.WriteString(`="`)
		e.escape(a.value)
		e.buf.WriteByte('"')
	}
	if empty {
		e.buf.WriteString("/>\n")
	} else {
		e.buf.WriteString(">\n")
	}
}

func (e *encoder) end(depth int, name string) {
	e.pad(depth)
	e.buf.WriteString("</")
	e.buf.WriteString(name)
	e.buf.WriteString(">\n")
}

func (e *encoder) escape(s string) {
	if e.err == nil && !representable(s) {
		e.err = fmt.Errorf("text %q cannot be represented in XML", s)
	}
	xml.EscapeText(&e.buf, []byte(s))
}

func representable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return false
		}
	}
	return true
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
