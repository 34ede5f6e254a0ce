package harness

import (
	"slices"
	"strings"
)

// NodeID names a node in a Network. It wraps the string chosen at
// registration; two ids are equal when their strings are equal, so NodeID
// can be used directly as a map key. The zero value names no node.
type NodeID struct {
	name string
}

// String returns the name the node was registered under.
func (id NodeID) String() string {
	return id.name
}

// IsZero reports whether id is the zero NodeID.
func (id NodeID) IsZero() bool {
	return id.name == ""
}

// Compare orders ids by name. It returns -1, 0 or +1.
func (id NodeID) Compare(other NodeID) int {
	return strings.Compare(id.name, other.name)
}

// SortIDs sorts ids in place by name.
func SortIDs(ids []NodeID) {
	slices.SortFunc(ids, NodeID.Compare)
}

// NodeSpec pairs a node with its role. The orchestrator hands each spec to
// the factory exactly once.
type NodeSpec[K any] struct {
	ID   NodeID
	Kind K
}
