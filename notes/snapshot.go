package notes

import (
	"iter"
	"slices"
	"sort"
)

// Snapshot is an immutable, sorted view of a note set. A nil *Snapshot is
// treated as empty.
type Snapshot struct {
	notes []Note
}

// NewSnapshot returns a snapshot of the given notes, sorted and without
// duplicates.
func NewSnapshot(ns ...Note) *Snapshot {
	set := make(map[Note]struct{}, len(ns))
	for _, n := range ns {
		set[n] = struct{}{}
	}
	return snapshotOf(set)
}

func snapshotOf(set map[Note]struct{}) *Snapshot {
	out := make([]Note, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.SortFunc(out, Compare)
	return &Snapshot{notes: out}
}

// Len returns the number of notes.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.notes)
}

// At returns the i-th note in sort order.
func (s *Snapshot) At(i int) Note {
	return s.notes[i]
}

// Notes returns a copy of the notes in sort order.
func (s *Snapshot) Notes() []Note {
	if s == nil {
		return nil
	}
	return slices.Clone(s.notes)
}

// All iterates the notes in sort order.
func (s *Snapshot) All() iter.Seq[Note] {
	return func(yield func(Note) bool) {
		if s == nil {
			return
		}
		for _, n := range s.notes {
			if !yield(n) {
				return
			}
		}
	}
}

// Contains reports whether n is in the snapshot.
func (s *Snapshot) Contains(n Note) bool {
	if s == nil {
		return false
	}
	i := sort.Search(len(s.notes), func(i int) bool {
		return Compare(s.notes[i], n) >= 0
	})
	return i < len(s.notes) && s.notes[i] == n
}

// Equal reports whether both snapshots hold the same notes.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i := 0; i < s.Len(); i++ {
		if s.notes[i] != other.notes[i] {
			return false
		}
	}
	return true
}
