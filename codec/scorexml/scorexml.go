// Package scorexml is the XML document format for compositions.
//
// Two revisions exist. Both share one element tree and differ only in how
// region notes are written: 1.0 uses one <note> element per note, 1.1 a
// compact <notes> list of pitch:start:length triples.
package scorexml

import (
	"fmt"

	"opusgraph/codec"
)

// RootElement is the document element of every revision.
const RootElement = "composition"

const namespacePrefix = "urn:opusgraph:score:"

var (
	V1_0 = codec.Version{Major: 1, Minor: 0}
	V1_1 = codec.Version{Major: 1, Minor: 1}
)

// Versions lists the supported revisions, oldest first.
var Versions = []codec.Version{V1_0, V1_1}

// Namespace returns the XML namespace of revision v.
func Namespace(v codec.Version) string {
	return namespacePrefix + v.String()
}

func schemaOf(v codec.Version) codec.Schema {
	return codec.Schema{Namespace: Namespace(v), Root: RootElement}
}

type parserProvider struct {
	version codec.Version
}

func (p parserProvider) Schema() codec.Schema { return schemaOf(p.version) }

func (p parserProvider) NewHandler() codec.Handler {
	return &handler{version: p.version}
}

type serializerProvider struct {
	version codec.Version
}

func (p serializerProvider) Version() codec.Version { return p.version }
func (p serializerProvider) Schema() codec.Schema   { return schemaOf(p.version) }

func (p serializerProvider) NewWriter() codec.Writer {
	return &writer{version: p.version, compactNotes: !p.version.Less(V1_1)}
}

// Register adds parsers and serializers for every revision to reg.
func Register(reg *codec.Registry) error {
	for _, v := range Versions {
		if err := reg.RegisterParser(parserProvider{version: v}); err != nil {
			return fmt.Errorf("register scorexml %s: %w", v, err)
		}
		if err := reg.RegisterSerializer(serializerProvider{version: v}); err != nil {
			return fmt.Errorf("register scorexml %s: %w", v, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding only this format.
func NewRegistry() (*codec.Registry, error) {
	reg := codec.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
