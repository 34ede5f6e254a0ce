package netsim

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSubnet is the subnet used when a FabricConfig leaves it empty.
const DefaultSubnet = "10.0.0.0/16"

// DefaultAcceptBacklog is the number of pending connections a listener
// queues before refusing new dials.
const DefaultAcceptBacklog = 128

// FabricConfig holds configuration for a simulated network fabric.
type FabricConfig struct {
	// Subnet hosts are addressed from
	Subnet string

	// Gateway is the router address inside Subnet
	Gateway string

	// ReservedAddresses are never assigned to hosts
	ReservedAddresses []string

	// AcceptBacklog bounds each listener's queue of unaccepted connections
	AcceptBacklog int
}

// DefaultFabricConfig returns a fabric configuration with a /16 subnet.
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		Subnet:        DefaultSubnet,
		AcceptBacklog: DefaultAcceptBacklog,
	}
}

// DialRecord represents a dial attempt for test verification
type DialRecord struct {
	From      netip.AddrPort
	To        netip.AddrPort
	Timestamp int64
	Success   bool
	Error     error
}

// Fabric routes stream connections between hosts attached to one subnet.
// Every host gets its own address; a dial reaches whatever listener is bound
// to the destination address and port.
type Fabric struct {
	pool      *Pool
	backlog   int
	listeners map[netip.AddrPort]*Listener
	hosts     map[string]*Host
	dialLog   []DialRecord
	closed    bool
	mu        sync.RWMutex
}

// NewFabric creates a fabric for the configured subnet.
func NewFabric(config FabricConfig) (*Fabric, error) {
	if config.Subnet == "" {
		config.Subnet = DefaultSubnet
	}
	if config.AcceptBacklog <= 0 {
		config.AcceptBacklog = DefaultAcceptBacklog
	}

	pool, err := NewPool(PoolConfig{
		Subnet:            config.Subnet,
		Gateway:           config.Gateway,
		ReservedAddresses: config.ReservedAddresses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create address pool: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewFabric",
		"subnet":   pool.Prefix().String(),
		"gateway":  pool.Gateway().String(),
	}).Debug("Created simulated fabric")

	return &Fabric{
		pool:      pool,
		backlog:   config.AcceptBacklog,
		listeners: make(map[netip.AddrPort]*Listener),
		hosts:     make(map[string]*Host),
	}, nil
}

// Attach creates a host called name and assigns it an address.
func (f *Fabric) Attach(name string) (*Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, newNetError("attach", name, ErrFabricClosed)
	}
	if _, exists := f.hosts[name]; exists {
		return nil, fmt.Errorf("host %q already attached", name)
	}

	addr, err := f.pool.Allocate(name)
	if err != nil {
		return nil, err
	}

	host := &Host{
		fabric:    f,
		name:      name,
		addr:      addr,
		listeners: make(map[uint16]*Listener),
		nextPort:  ephemeralPortStart,
	}
	f.hosts[name] = host

	logrus.WithFields(logrus.Fields{
		"function": "Fabric.Attach",
		"host":     name,
		"addr":     addr.String(),
	}).Debug("Host attached")

	return host, nil
}

// Host returns the attached host called name.
func (f *Fabric) Host(name string) (*Host, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.hosts[name]
	return h, ok
}

// Pool returns the fabric's address pool.
func (f *Fabric) Pool() *Pool {
	return f.pool
}

func (f *Fabric) detach(h *Host) {
	f.mu.Lock()
	if f.hosts[h.name] == h {
		delete(f.hosts, h.name)
	}
	f.mu.Unlock()
	f.pool.Release(h.name)
}

func (f *Fabric) bind(addr netip.AddrPort, l *Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return newNetError("listen", addr.String(), ErrFabricClosed)
	}
	if _, used := f.listeners[addr]; used {
		return newNetError("listen", addr.String(), ErrAddressInUse)
	}
	f.listeners[addr] = l
	return nil
}

func (f *Fabric) unbind(addr netip.AddrPort, l *Listener) {
	f.mu.Lock()
	if f.listeners[addr] == l {
		delete(f.listeners, addr)
	}
	f.mu.Unlock()
}

// dial connects from to the listener bound at to.
func (f *Fabric) dial(ctx context.Context, from, to netip.AddrPort) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, newNetError("dial", to.String(), err)
	}

	f.mu.RLock()
	closed := f.closed
	l := f.listeners[to]
	f.mu.RUnlock()

	var err error
	switch {
	case closed:
		err = ErrFabricClosed
	case !f.pool.Contains(to.Addr()):
		err = ErrAddressOutOfRange
	case l == nil:
		err = ErrConnectionRefused
	}

	var client net.Conn
	if err == nil {
		client, err = l.enqueue(from)
	}

	f.record(from, to, err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Fabric.dial",
			"from":     from.String(),
			"to":       to.String(),
			"error":    err.Error(),
		}).Debug("Dial failed")
		return nil, newNetError("dial", to.String(), err)
	}
	return client, nil
}

func (f *Fabric) record(from, to netip.AddrPort, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialLog = append(f.dialLog, DialRecord{
		From:      from,
		To:        to,
		Timestamp: time.Now().UnixNano(),
		Success:   err == nil,
		Error:     err,
	})
}

// DialLog returns every dial attempt made on the fabric, in order.
func (f *Fabric) DialLog() []DialRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()

	log := make([]DialRecord, len(f.dialLog))
	copy(log, f.dialLog)
	return log
}

// Stats returns statistics about the fabric
func (f *Fabric) Stats() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	succeeded := 0
	for _, record := range f.dialLog {
		if record.Success {
			succeeded++
		}
	}

	return map[string]interface{}{
		"subnet":           f.pool.Prefix().String(),
		"hosts":            len(f.hosts),
		"listeners":        len(f.listeners),
		"total_dials":      len(f.dialLog),
		"successful_dials": succeeded,
		"failed_dials":     len(f.dialLog) - succeeded,
		"addresses_free":   f.pool.Available(),
		"addresses_leased": f.pool.Used(),
	}
}

// Close shuts down every listener and refuses further attaches and dials.
func (f *Fabric) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	listeners := make([]*Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	return nil
}

// Listener accepts simulated connections on one address and port.
type Listener struct {
	addr   netip.AddrPort
	fabric *Fabric
	connCh chan *Conn
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func (l *Listener) enqueue(from netip.AddrPort) (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrConnectionRefused
	}

	client, server := newConnPair(from, l.addr)
	select {
	case l.connCh <- server:
		return client, nil
	default:
		return nil, fmt.Errorf("accept backlog full: %w", ErrConnectionRefused)
	}
}

// Accept implements net.Listener.Accept().
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.done:
		return nil, newNetError("accept", l.addr.String(), ErrListenerClosed)
	}
}

// Close implements net.Listener.Close(). Connections queued but not yet
// accepted are closed, so their dialers read io.EOF.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.fabric.unbind(l.addr, l)

	for {
		select {
		case conn := <-l.connCh:
			conn.Close()
		default:
			return nil
		}
	}
}

// Addr implements net.Listener.Addr().
func (l *Listener) Addr() net.Addr {
	return net.TCPAddrFromAddrPort(l.addr)
}
