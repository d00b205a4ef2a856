// Package notes holds the note value type and the copy-on-write note set
// that regions use for high-frequency edits.
package notes

import (
	"errors"
	"fmt"
)

// ErrInvalidNote is returned when a note violates pitch >= 0, start >= 0 or
// length >= 1.
var ErrInvalidNote = errors.New("invalid note")

// Note is a single pitched event on a region's timeline. The zero value is
// not a valid note; construct notes with New.
type Note struct {
	pitch  int
	start  int64
	length int64
}

// New validates and returns a note. Out-of-range values are rejected, never
// clamped.
func New(pitch int, start, length int64) (Note, error) {
	switch {
	case pitch < 0:
		return Note{}, fmt.Errorf("%w: pitch %d is negative", ErrInvalidNote, pitch)
	case start < 0:
		return Note{}, fmt.Errorf("%w: start %d is negative", ErrInvalidNote, start)
	case length < 1:
		return Note{}, fmt.Errorf("%w: length %d is less than 1", ErrInvalidNote, length)
	}
	return Note{pitch: pitch, start: start, length: length}, nil
}

// MustNew is like New but panics on invalid input. Intended for literals in
// tests and fixtures.
func MustNew(pitch int, start, length int64) Note {
	n, err := New(pitch, start, length)
	if err != nil {
		panic(err)
	}
	return n
}

// Pitch returns the pitch index.
func (n Note) Pitch() int { return n.pitch }

// Start returns the start time in ticks.
func (n Note) Start() int64 { return n.start }

// Length returns the duration in ticks.
func (n Note) Length() int64 { return n.length }

// End returns the first tick after the note.
func (n Note) End() int64 { return n.start + n.length }

func (n Note) String() string {
	return fmt.Sprintf("%d@%d+%d", n.pitch, n.start, n.length)
}

// Compare orders notes by pitch, then start, then length.
func Compare(a, b Note) int {
	switch {
	case a.pitch != b.pitch:
		return cmpInt(int64(a.pitch), int64(b.pitch))
	case a.start != b.start:
		return cmpInt(a.start, b.start)
	default:
		return cmpInt(a.length, b.length)
	}
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
