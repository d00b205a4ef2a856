package codec

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"opusgraph/graph"
)

// State is a parser's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateParsing
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const readChunk = 32 * 1024

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// IsCompressed reports whether data starts with a zstd frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Parser reads one document from one stream. It runs at most once: Idle
// moves to Parsing on Execute and ends in Succeeded or Failed.
type Parser struct {
	reg    *Registry
	source string
	src    io.Reader

	mu     sync.Mutex
	state  State
	schema Schema
	errs   ParseErrors
}

// State returns the current lifecycle state.
func (p *Parser) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Schema returns the schema detected from the input's root element, once
// parsing has got that far.
func (p *Parser) Schema() Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

// Errors returns the errors of a failed parse.
func (p *Parser) Errors() ParseErrors {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(ParseErrors(nil), p.errs...)
}

// Execute reads the whole stream, selects a provider from the root element
// and parses. On failure the returned error is a ParseErrors. A second call
// returns ErrParserReused.
//
// The context is checked between reads; a read that blocks is interrupted
// by closing the stream, which surfaces as an I/O parse error.
func (p *Parser) Execute(ctx context.Context) (*graph.Graph, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return nil, ErrParserReused
	}
	p.state = StateParsing
	p.mu.Unlock()

	g, errs := p.run(ctx)
	if len(errs) == 0 && g == nil {
		errs = ParseErrors{Errorf(Location{Source: p.source}, "parser produced no document")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(errs) > 0 {
		p.state = StateFailed
		p.errs = errs
		return nil, errs
	}
	p.state = StateSucceeded
	return g, nil
}

func (p *Parser) run(ctx context.Context) (g *graph.Graph, errs ParseErrors) {
	loc := Location{Source: p.source}
	defer func() {
		if r := recover(); r != nil {
			g = nil
			errs = ParseErrors{Errorf(loc, "parsing panicked: %v", r)}
		}
	}()
	if p.src == nil {
		return nil, ParseErrors{Wrap(loc, &IOError{Op: "read", Path: p.source, Err: ErrNoInput}, "reading input")}
	}
	data, err := readAll(ctx, p.src)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, ParseErrors{Wrap(loc, err, "parse cancelled")}
		}
		return nil, ParseErrors{Wrap(loc, &IOError{Op: "read", Path: p.source, Err: err}, "reading input")}
	}
	if IsCompressed(data) {
		data, err = decompress(data)
		if err != nil {
			return nil, ParseErrors{Wrap(loc, &IOError{Op: "decompress", Path: p.source, Err: err}, "reading compressed input")}
		}
	}

	schema, perr := sniff(p.source, data)
	if perr != nil {
		return nil, ParseErrors{perr}
	}
	p.mu.Lock()
	p.schema = schema
	p.mu.Unlock()

	provider, ok := p.reg.parserFor(schema)
	if !ok {
		return nil, ParseErrors{Wrap(loc, &UnsupportedFormatError{Schema: schema}, "no parser for document")}
	}
	p.reg.log().Debug("parser selected", "source", p.source, "schema", schema.String())

	g, list := provider.NewHandler().Parse(&Input{Source: p.source, Schema: schema, Data: data})
	if len(list) > 0 {
		return nil, ParseErrors(list)
	}
	return g, nil
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// sniff finds the root element without interpreting the rest.
func sniff(source string, data []byte) (Schema, *ParseError) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return Schema{}, Errorf(Location{Source: source}, "document has no root element")
		}
		if err != nil {
			line, col := dec.InputPos()
			return Schema{}, Wrap(Location{Source: source, Line: line, Column: col}, err, "malformed document")
		}
		if se, ok := tok.(xml.StartElement); ok {
			return Schema{Namespace: se.Name.Space, Root: se.Name.Local}, nil
		}
	}
}
