package harness

import (
	"context"
	"net"
	"net/netip"
)

// Host is the isolated, addressed context a node runs in. *netsim.Host
// implements it.
type Host interface {
	// Name returns the host name, which is the node id.
	Name() string

	// Addr returns the address assigned to the node.
	Addr() netip.Addr

	// Listen binds a stream listener on the node's address.
	Listen(port uint16) (net.Listener, error)

	// Dial opens a stream connection to another address on the network.
	Dial(ctx context.Context, addr netip.AddrPort) (net.Conn, error)
}

// RunningNode is what a protocol implementation exposes to be driven by the
// orchestrator.
type RunningNode[R any] interface {
	// ConnectTo asks the node to open an outbound connection to addr.
	// Failures are the node's to handle; the orchestrator does not wait
	// for the connection to succeed.
	ConnectTo(ctx context.Context, addr netip.Addr)

	// Wait runs the node until its protocol work is finished and returns
	// its result. The orchestrator calls Wait exactly once and never
	// touches the node afterwards.
	Wait(ctx context.Context) (R, error)
}

// Factory builds the running node for one registered node once its host has
// an address. It is called once per node, on that node's goroutine.
type Factory[K, R any] func(id NodeID, kind K, host Host) (RunningNode[R], error)
