package harness

import (
	"net/netip"
	"time"
)

// NodeState is a step in a node's lifecycle.
type NodeState int

const (
	// StateCreated means the node's channels are reserved but it has no address yet
	StateCreated NodeState = iota
	// StateAddressAssigned means the node published its address
	StateAddressAssigned
	// StateReady means the factory returned and the node accepts connections
	StateReady
	// StateConnecting means the node is replaying its connect commands
	StateConnecting
	// StateCompleted means Wait returned a result
	StateCompleted
	// StateFailed means the node's factory, connect phase or Wait failed
	StateFailed
)

// String returns a string representation of the node state.
func (s NodeState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateAddressAssigned:
		return "ADDRESS_ASSIGNED"
	case StateReady:
		return "READY"
	case StateConnecting:
		return "CONNECTING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Observer receives lifecycle events from a run. Methods are called from
// the node goroutines and the control goroutine concurrently, so
// implementations must be safe for concurrent use.
type Observer interface {
	// NodeStateChanged is called when a node enters state.
	NodeStateChanged(id NodeID, state NodeState)

	// ConnectDispatched is called when a connect command for edge has been
	// queued for the dialer, in edge declaration order.
	ConnectDispatched(edge Edge, addr netip.Addr)

	// EdgeSkipped is called when an edge is dropped because its target has
	// no address.
	EdgeSkipped(edge Edge, err error)

	// BarrierReleased is called once every node has signalled readiness
	// (or exited). It is not called when the barrier is disabled.
	BarrierReleased(ready int, waited time.Duration)

	// RunCompleted is called when the run has joined, with the run's error.
	RunCompleted(nodes int, elapsed time.Duration, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the events you need.
type NopObserver struct{}

func (NopObserver) NodeStateChanged(NodeID, NodeState)     {}
func (NopObserver) ConnectDispatched(Edge, netip.Addr)     {}
func (NopObserver) EdgeSkipped(Edge, error)                {}
func (NopObserver) BarrierReleased(int, time.Duration)     {}
func (NopObserver) RunCompleted(int, time.Duration, error) {}

// observers fans events out to several observers.
type observers []Observer

func (o observers) NodeStateChanged(id NodeID, state NodeState) {
	for _, obs := range o {
		obs.NodeStateChanged(id, state)
	}
}

func (o observers) ConnectDispatched(edge Edge, addr netip.Addr) {
	for _, obs := range o {
		obs.ConnectDispatched(edge, addr)
	}
}

func (o observers) EdgeSkipped(edge Edge, err error) {
	for _, obs := range o {
		obs.EdgeSkipped(edge, err)
	}
}

func (o observers) BarrierReleased(ready int, waited time.Duration) {
	for _, obs := range o {
		obs.BarrierReleased(ready, waited)
	}
}

func (o observers) RunCompleted(nodes int, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.RunCompleted(nodes, elapsed, err)
	}
}
