package harness

// Results maps every node that ran to the value its Wait returned.
type Results[R any] map[NodeID]R

// Get returns the result of the node registered under name.
func (r Results[R]) Get(name string) (R, bool) {
	v, ok := r[NodeID{name: name}]
	return v, ok
}

// IDs returns the ids in the result set, sorted.
func (r Results[R]) IDs() []NodeID {
	ids := make([]NodeID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// Len returns the number of results.
func (r Results[R]) Len() int {
	return len(r)
}

// outcome is what one node's machine hands to the join.
type outcome[R any] struct {
	id     NodeID
	result R
}

func collect[R any](outcomes []outcome[R]) Results[R] {
	results := make(Results[R], len(outcomes))
	for _, o := range outcomes {
		// dropped nodes leave a zero outcome behind
		if o.id.IsZero() {
			continue
		}
		results[o.id] = o.result
	}
	return results
}
