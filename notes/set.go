package notes

import (
	"sync"
	"sync/atomic"
)

// Set is the concurrent note collection owned by one region.
//
// Writers mutate a private working map under a mutex, one batch at a time.
// When a batch has been applied the set publishes a freshly sorted, immutable
// Snapshot with a single atomic store, so Read never blocks and never observes
// half of a batch.
type Set struct {
	mu      sync.Mutex
	working map[Note]struct{}

	current atomic.Pointer[Snapshot]
}

// NewSet returns a set holding the given notes.
func NewSet(initial ...Note) *Set {
	s := &Set{working: make(map[Note]struct{}, len(initial))}
	for _, n := range initial {
		s.working[n] = struct{}{}
	}
	s.current.Store(snapshotOf(s.working))
	return s
}

// Read returns the most recently published snapshot.
func (s *Set) Read() *Snapshot {
	return s.current.Load()
}

// Add inserts every note in batch. Notes already present are ignored.
func (s *Set) Add(batch ...Note) *Snapshot {
	return s.Apply(func(b *Batch) {
		for _, n := range batch {
			b.Add(n)
		}
	})
}

// Remove deletes every note in batch. Absent notes are ignored.
func (s *Set) Remove(batch ...Note) *Snapshot {
	return s.Apply(func(b *Batch) {
		for _, n := range batch {
			b.Remove(n)
		}
	})
}

// Replace swaps each old note for its new note. All old notes are removed
// before any new note is inserted, which keeps the outcome independent of map
// iteration order when an old note of one pair is the new note of another.
// An old note that is not present only results in its new note being added.
func (s *Set) Replace(pairs map[Note]Note) *Snapshot {
	return s.Apply(func(b *Batch) {
		for old := range pairs {
			b.Remove(old)
		}
		for _, n := range pairs {
			b.Add(n)
		}
	})
}

// Apply records a mixed batch through fn and applies it atomically with
// respect to readers. fn runs before the writer lock is taken and must only
// record operations on b.
func (s *Set) Apply(fn func(b *Batch)) *Snapshot {
	var b Batch
	fn(&b)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, o := range b.ops {
		_, present := s.working[o.note]
		switch {
		case o.add && !present:
			s.working[o.note] = struct{}{}
			changed = true
		case !o.add && present:
			delete(s.working, o.note)
			changed = true
		}
	}
	if !changed {
		return s.current.Load()
	}

	// Publishing while still holding the writer lock keeps snapshots in
	// batch order.
	snap := snapshotOf(s.working)
	s.current.Store(snap)
	return snap
}

// Batch collects the operations of a single atomic update.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	note Note
	add  bool
}

// Add records an insertion.
func (b *Batch) Add(n Note) { b.ops = append(b.ops, batchOp{note: n, add: true}) }

// Remove records a deletion.
func (b *Batch) Remove(n Note) { b.ops = append(b.ops, batchOp{note: n}) }

// Len returns the number of recorded operations.
func (b *Batch) Len() int { return len(b.ops) }
