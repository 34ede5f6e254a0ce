package harness

import (
	"fmt"
	"sync"
)

// Network is a plan under construction: the registered nodes and the
// connections between them. Declaration methods panic on configuration
// errors (duplicate ids, self connections, unknown nodes, changes after
// Start) because those are bugs in the test, not conditions to recover from.
//
// A Network is consumed by Start. Once started it can still be inspected
// but no longer changed.
type Network[K any] struct {
	nodes   map[NodeID]NodeSpec[K]
	edges   []Edge
	started bool
	mu      sync.RWMutex
}

// NewNetwork returns an empty network.
func NewNetwork[K any]() *Network[K] {
	return &Network[K]{
		nodes: make(map[NodeID]NodeSpec[K]),
	}
}

// Node registers a node called name with the given role and returns its id.
// Registration order does not affect the run.
func (n *Network[K]) Node(name string, kind K) NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	if name == "" {
		panic("harness: node id must not be empty")
	}

	id := NodeID{name: name}
	if _, exists := n.nodes[id]; exists {
		panic(fmt.Sprintf("harness: duplicate node id: %s", id))
	}
	n.nodes[id] = NodeSpec[K]{ID: id, Kind: kind}
	return id
}

// Connect adds one edge: dialer connects to target.
func (n *Network[K]) Connect(dialer, target NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	n.addEdgeLocked(dialer, target)
}

// ConnectAll connects every node to every other node in both directions,
// producing N·(N−1) edges for N distinct nodes and never a self edge.
func (n *Network[K]) ConnectAll(nodes ...NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				n.addEdgeLocked(a, b)
			}
		}
	}
}

// ConnectAllOnce connects each unordered pair exactly once, producing
// N·(N−1)/2 edges. The node listed first dials. Use it instead of
// ConnectAll when only one side of a pair should open the connection;
// mixing the two changes which side dials.
func (n *Network[K]) ConnectAllOnce(nodes ...NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			if a != b {
				n.addEdgeLocked(a, b)
			}
		}
	}
}

// ConnectEachTo makes every node in nodes dial target.
func (n *Network[K]) ConnectEachTo(nodes []NodeID, target NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	for _, a := range nodes {
		n.addEdgeLocked(a, target)
	}
}

// ConnectToAll makes node dial every target.
func (n *Network[K]) ConnectToAll(node NodeID, targets ...NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.mustBeOpenLocked()
	for _, b := range targets {
		n.addEdgeLocked(node, b)
	}
}

// Lookup returns the id registered under name.
func (n *Network[K]) Lookup(name string) (NodeID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	id := NodeID{name: name}
	_, ok := n.nodes[id]
	return id, ok
}

// Nodes returns the registered nodes sorted by id.
func (n *Network[K]) Nodes() []NodeSpec[K] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sortedNodesLocked()
}

// Edges returns a copy of the declared edges in declaration order.
func (n *Network[K]) Edges() []Edge {
	n.mu.RLock()
	defer n.mu.RUnlock()

	edges := make([]Edge, len(n.edges))
	copy(edges, n.edges)
	return edges
}

// Len returns the number of registered nodes.
func (n *Network[K]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// Degree returns how many edges touch id, as dialer or target. Duplicate
// edges are counted each time.
func (n *Network[K]) Degree(id NodeID) int {
	return n.OutDegree(id) + n.InDegree(id)
}

// OutDegree returns how many edges id dials.
func (n *Network[K]) OutDegree(id NodeID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := 0
	for _, e := range n.edges {
		if e.Dialer == id {
			count++
		}
	}
	return count
}

// InDegree returns how many edges target id.
func (n *Network[K]) InDegree(id NodeID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := 0
	for _, e := range n.edges {
		if e.Target == id {
			count++
		}
	}
	return count
}

// Started reports whether the network has been handed to Start.
func (n *Network[K]) Started() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}

func (n *Network[K]) mustBeOpenLocked() {
	if n.started {
		panic("harness: network already started; no nodes or edges may be added")
	}
}

func (n *Network[K]) addEdgeLocked(dialer, target NodeID) {
	if _, ok := n.nodes[dialer]; !ok {
		panic(fmt.Sprintf("harness: unknown dialer node: %q", dialer.name))
	}
	if _, ok := n.nodes[target]; !ok {
		panic(fmt.Sprintf("harness: unknown target node: %q", target.name))
	}
	if dialer == target {
		panic(fmt.Sprintf("harness: node %s cannot connect to itself", dialer))
	}
	n.edges = append(n.edges, Edge{Dialer: dialer, Target: target})
}

func (n *Network[K]) sortedNodesLocked() []NodeSpec[K] {
	ids := make([]NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	SortIDs(ids)

	specs := make([]NodeSpec[K], 0, len(ids))
	for _, id := range ids {
		specs = append(specs, n.nodes[id])
	}
	return specs
}

// plan is the frozen network a run executes.
type plan[K any] struct {
	nodes []NodeSpec[K]
	edges []Edge
}

// take seals the network and returns its plan. A network can be taken once.
func (n *Network[K]) take() *plan[K] {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		panic("harness: network already started")
	}
	n.started = true

	edges := make([]Edge, len(n.edges))
	copy(edges, n.edges)
	return &plan[K]{
		nodes: n.sortedNodesLocked(),
		edges: edges,
	}
}

func (p *plan[K]) outDegrees() map[NodeID]int {
	degrees := make(map[NodeID]int, len(p.nodes))
	for _, spec := range p.nodes {
		degrees[spec.ID] = 0
	}
	for _, e := range p.edges {
		degrees[e.Dialer]++
	}
	return degrees
}
