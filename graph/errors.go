package graph

import (
	"errors"
	"fmt"
)

var (
	ErrRootNode         = errors.New("the composition root cannot be deleted or restored")
	ErrInvalidArea      = errors.New("invalid area")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidName      = errors.New("invalid name")
	ErrDuplicateID      = errors.New("node id already in use")
	ErrWrongKind        = errors.New("operation not supported for node kind")
	ErrNotRestorable    = errors.New("node is not the root of a deletion")
)

// DuplicateNameError is returned when a live sibling already uses a name.
type DuplicateNameError struct {
	Parent NodeID
	Name   string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate name %q under %s", e.Name, e.Parent)
}

// UnknownNodeError is returned when an id does not reference a live node of
// the expected kind.
type UnknownNodeError struct {
	ID     NodeID
	Reason string
}

func (e *UnknownNodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown node %s", e.ID)
	}
	return fmt.Sprintf("unknown node %s: %s", e.ID, e.Reason)
}
