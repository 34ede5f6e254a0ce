package netsim

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Lease records which host holds an address.
type Lease struct {
	Name      string
	Address   netip.Addr
	Allocated time.Time
}

// PoolConfig contains address pool configuration.
type PoolConfig struct {
	// Subnet is the network CIDR hosts are addressed from (e.g. "10.0.0.0/16").
	Subnet string

	// Gateway is the router address. If empty the first usable address is
	// reserved for it.
	Gateway string

	// ReservedAddresses lists additional addresses that are never leased.
	ReservedAddresses []string
}

// Pool hands out host addresses from a subnet. Allocation is sequential so a
// fabric that attaches hosts in a fixed order assigns the same addresses on
// every run.
type Pool struct {
	prefix   netip.Prefix
	gateway  netip.Addr
	leases   map[string]*Lease
	byAddr   map[netip.Addr]string
	reserved map[netip.Addr]bool
	cursor   netip.Addr
	size     int
	mu       sync.Mutex
}

// NewPool creates an address pool for the configured subnet.
func NewPool(config PoolConfig) (*Pool, error) {
	prefix, err := netip.ParsePrefix(config.Subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet: %w", err)
	}
	prefix = prefix.Masked()

	pool := &Pool{
		prefix:   prefix,
		leases:   make(map[string]*Lease),
		byAddr:   make(map[netip.Addr]string),
		reserved: make(map[netip.Addr]bool),
		cursor:   prefix.Addr(),
	}

	pool.reserved[prefix.Addr()] = true
	if prefix.Addr().Is4() {
		pool.reserved[lastAddr(prefix)] = true
	}

	if config.Gateway != "" {
		gw, err := netip.ParseAddr(config.Gateway)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway address: %w", err)
		}
		if !prefix.Contains(gw) {
			return nil, fmt.Errorf("gateway %s: %w", gw, ErrAddressOutOfRange)
		}
		pool.gateway = gw
	} else if first := prefix.Addr().Next(); prefix.Contains(first) {
		pool.gateway = first
	}
	if pool.gateway.IsValid() {
		pool.reserved[pool.gateway] = true
	}

	for _, s := range config.ReservedAddresses {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid reserved address %q: %w", s, err)
		}
		pool.reserved[addr] = true
	}

	pool.size = usableHosts(prefix, pool.reserved)
	return pool, nil
}

// Allocate leases the next free address to name. Allocating twice for the
// same name returns the existing lease.
func (p *Pool) Allocate(name string) (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lease, ok := p.leases[name]; ok {
		return lease.Address, nil
	}

	start := p.cursor
	for addr := start.Next(); ; addr = addr.Next() {
		if !addr.IsValid() || !p.prefix.Contains(addr) {
			addr = p.prefix.Addr()
		}
		if addr == start {
			break
		}
		if p.reserved[addr] {
			continue
		}
		if _, used := p.byAddr[addr]; used {
			continue
		}

		return p.lease(name, addr), nil
	}

	// the cursor itself may have been released since it was handed out
	if _, used := p.byAddr[start]; !used && !p.reserved[start] && p.prefix.Contains(start) {
		return p.lease(name, start), nil
	}

	return netip.Addr{}, newNetError("allocate", p.prefix.String(), ErrNoAvailableAddress)
}

func (p *Pool) lease(name string, addr netip.Addr) netip.Addr {
	p.cursor = addr
	p.leases[name] = &Lease{Name: name, Address: addr, Allocated: time.Now()}
	p.byAddr[addr] = name

	logrus.WithFields(logrus.Fields{
		"function": "Pool.Allocate",
		"host":     name,
		"addr":     addr.String(),
	}).Debug("Address leased")
	return addr
}

// Release returns name's address to the pool.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lease, ok := p.leases[name]
	if !ok {
		return
	}
	delete(p.byAddr, lease.Address)
	delete(p.leases, name)
}

// Lookup returns the host name holding addr.
func (p *Pool) Lookup(addr netip.Addr) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.byAddr[addr]
	return name, ok
}

// Contains reports whether addr belongs to the pool's subnet.
func (p *Pool) Contains(addr netip.Addr) bool {
	return p.prefix.Contains(addr)
}

// Gateway returns the router address reserved in the subnet.
func (p *Pool) Gateway() netip.Addr {
	return p.gateway
}

// Prefix returns the pool's subnet.
func (p *Pool) Prefix() netip.Prefix {
	return p.prefix
}

// Used returns the number of leased addresses.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}

// Available returns the number of addresses that can still be leased.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.leases)
}

// lastAddr returns the highest address in prefix.
func lastAddr(prefix netip.Prefix) netip.Addr {
	b := prefix.Addr().AsSlice()
	hostBits := len(b)*8 - prefix.Bits()
	for i := len(b) - 1; i >= 0 && hostBits > 0; i-- {
		if hostBits >= 8 {
			b[i] = 0xff
			hostBits -= 8
			continue
		}
		b[i] |= byte(1<<hostBits) - 1
		hostBits = 0
	}
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

// usableHosts counts addresses in prefix that are not reserved, capped to
// keep IPv6 prefixes from overflowing.
func usableHosts(prefix netip.Prefix, reserved map[netip.Addr]bool) int {
	const maxCount = 1 << 24
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 24 {
		return maxCount
	}
	total := 1 << hostBits
	for addr := range reserved {
		if prefix.Contains(addr) {
			total--
		}
	}
	if total < 0 {
		return 0
	}
	return total
}
