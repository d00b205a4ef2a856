package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParserReused is returned by Execute on a parser that already ran.
	ErrParserReused = errors.New("parser already executed")

	// ErrDuplicateProvider is returned when registering a second provider
	// for the same schema or version.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrTempIsDestination is returned by SerializeAtomically when the
	// temporary path names the destination file.
	ErrTempIsDestination = errors.New("temporary file is the destination")

	// ErrNoInput is reported when a parser was created without a reader.
	ErrNoInput = errors.New("no input stream")

	// ErrNoSerializers is returned by CreateSerializer on a registry with
	// no serializer providers.
	ErrNoSerializers = errors.New("no serializers registered")
)

// UnsupportedFormatError is returned when no registered provider handles a
// schema or version.
type UnsupportedFormatError struct {
	Schema  Schema
	Version *Version
	// Err, when set, says why nothing could be selected.
	Err error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported format: %v", e.Err)
	}
	if e.Version != nil {
		return fmt.Sprintf("unsupported format version %s", e.Version)
	}
	return fmt.Sprintf("unsupported format %s", e.Schema)
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

// IOError wraps a stream or filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Location points into a parsed source. Line and Column are 1-based; zero
// means unknown.
type Location struct {
	Source string
	Line   int
	Column int
}

func (l Location) String() string {
	switch {
	case l.Line == 0:
		return l.Source
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.Source, l.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", l.Source, l.Line, l.Column)
	}
}

// ParseError is one located problem found while parsing.
type ParseError struct {
	Location
	Message string
	Err     error
}

// Errorf returns a ParseError at loc.
func Errorf(loc Location, format string, args ...any) *ParseError {
	return &ParseError{Location: loc, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a ParseError at loc carrying err as its cause.
func Wrap(loc Location, err error, message string) *ParseError {
	return &ParseError{Location: loc, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Location, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors is the non-empty list of problems a failed parse reports.
type ParseErrors []*ParseError

func (list ParseErrors) Error() string {
	switch len(list) {
	case 0:
		return "no parse errors"
	case 1:
		return list[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d parse errors:", len(list))
	for _, e := range list {
		b.WriteString("\n\t")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Unwrap exposes every entry to errors.Is and errors.As.
func (list ParseErrors) Unwrap() []error {
	out := make([]error, len(list))
	for i, e := range list {
		out[i] = e
	}
	return out
}
