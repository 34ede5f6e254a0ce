package netsim

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	ephemeralPortStart uint16 = 49152
	ephemeralPortEnd   uint16 = 65535
)

// Host is an isolated, addressed execution context on a fabric. Code
// running inside a machine reaches the rest of the network only through its
// host.
type Host struct {
	fabric    *Fabric
	name      string
	addr      netip.Addr
	listeners map[uint16]*Listener
	nextPort  uint16
	closed    bool
	mu        sync.Mutex
}

// Name returns the name the host was attached under.
func (h *Host) Name() string {
	return h.name
}

// Addr returns the address assigned to the host.
func (h *Host) Addr() netip.Addr {
	return h.addr
}

// Listen binds a listener to port on the host's address. Port zero picks an
// unused ephemeral port.
func (h *Host) Listen(port uint16) (net.Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, newNetError("listen", h.addr.String(), ErrHostClosed)
	}
	if port == 0 {
		port = h.ephemeralPortLocked()
	}

	addr := netip.AddrPortFrom(h.addr, port)
	l := &Listener{
		addr:   addr,
		fabric: h.fabric,
		connCh: make(chan *Conn, h.fabric.backlog),
		done:   make(chan struct{}),
	}
	if err := h.fabric.bind(addr, l); err != nil {
		return nil, err
	}
	h.listeners[port] = l

	logrus.WithFields(logrus.Fields{
		"function": "Host.Listen",
		"host":     h.name,
		"addr":     addr.String(),
	}).Debug("Listening")

	return l, nil
}

// Dial opens a stream connection from this host to addr.
func (h *Host) Dial(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, newNetError("dial", addr.String(), ErrHostClosed)
	}
	from := netip.AddrPortFrom(h.addr, h.ephemeralPortLocked())
	h.mu.Unlock()

	return h.fabric.dial(ctx, from, addr)
}

// Close unbinds every listener and returns the host's address to the pool.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	listeners := h.listeners
	h.listeners = nil
	h.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	h.fabric.detach(h)
	return nil
}

func (h *Host) ephemeralPortLocked() uint16 {
	for {
		port := h.nextPort
		if h.nextPort == ephemeralPortEnd {
			h.nextPort = ephemeralPortStart
		} else {
			h.nextPort++
		}
		if _, used := h.listeners[port]; !used {
			return port
		}
	}
}
