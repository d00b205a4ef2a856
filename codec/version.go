// Package codec defines how documents are read from and written to byte
// streams: pluggable parser and serializer providers, their registry,
// single-shot parsers that collect located errors, and atomic persistence.
package codec

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Version identifies a document format revision.
type Version struct {
	Major int
	Minor int
}

// Compare orders versions numerically.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.Major, o.Major); c != 0 {
		return c
	}
	return cmp.Compare(v.Minor, o.Minor)
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses "major.minor".
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil || maj < 0 {
		return Version{}, fmt.Errorf("invalid major version in %q", s)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil || mnr < 0 {
		return Version{}, fmt.Errorf("invalid minor version in %q", s)
	}
	return Version{Major: maj, Minor: mnr}, nil
}

// Schema is what a document declares about itself: the namespace and local
// name of its root element.
type Schema struct {
	Namespace string
	Root      string
}

func (s Schema) String() string {
	if s.Namespace == "" {
		return s.Root
	}
	return "{" + s.Namespace + "}" + s.Root
}
