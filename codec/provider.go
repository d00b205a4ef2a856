package codec

import (
	"io"

	"opusgraph/graph"
)

// ParserProvider reads one document schema.
type ParserProvider interface {
	Schema() Schema
	// NewHandler returns a handler for a single parse.
	NewHandler() Handler
}

// Handler turns one input into a graph. It returns either a graph and no
// errors, or errors; a handler should keep going after recoverable problems
// so that one parse reports as many of them as it can.
type Handler interface {
	Parse(in *Input) (*graph.Graph, []*ParseError)
}

// Input is a fully read, decompressed document.
type Input struct {
	Source string
	Schema Schema
	Data   []byte
}

// Loc returns a location in this input.
func (in *Input) Loc(line, column int) Location {
	return Location{Source: in.Source, Line: line, Column: column}
}

// SerializerProvider writes one format version.
type SerializerProvider interface {
	Version() Version
	Schema() Schema
	NewWriter() Writer
}

// Writer encodes a snapshot. Output must be a deterministic function of the
// snapshot's content.
type Writer interface {
	Write(w io.Writer, v *graph.View) error
}
