package netsim

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReservesNetworkGatewayAndBroadcast(t *testing.T) {
	pool, err := NewPool(PoolConfig{Subnet: "10.1.0.0/29"})
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("10.1.0.1"), pool.Gateway())
	// 8 addresses minus network, gateway and broadcast
	assert.Equal(t, 5, pool.Available())

	seen := make(map[netip.Addr]bool)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		addr, err := pool.Allocate(name)
		require.NoError(t, err)
		assert.False(t, seen[addr], "address %s leased twice", addr)
		seen[addr] = true
	}

	assert.False(t, seen[netip.MustParseAddr("10.1.0.0")])
	assert.False(t, seen[netip.MustParseAddr("10.1.0.1")])
	assert.False(t, seen[netip.MustParseAddr("10.1.0.7")])

	_, err = pool.Allocate("f")
	assert.True(t, errors.Is(err, ErrNoAvailableAddress))
}

func TestPoolAllocatesSequentially(t *testing.T) {
	pool, err := NewPool(PoolConfig{Subnet: "192.168.5.0/24"})
	require.NoError(t, err)

	a, err := pool.Allocate("a")
	require.NoError(t, err)
	b, err := pool.Allocate("b")
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("192.168.5.2"), a)
	assert.Equal(t, netip.MustParseAddr("192.168.5.3"), b)

	again, err := pool.Allocate("a")
	require.NoError(t, err)
	assert.Equal(t, a, again, "allocating twice for one name returns the same lease")
	assert.Equal(t, 2, pool.Used())
}

func TestPoolReleaseMakesAddressReusable(t *testing.T) {
	pool, err := NewPool(PoolConfig{Subnet: "10.0.0.0/30"})
	require.NoError(t, err)
	require.Equal(t, 1, pool.Available())

	addr, err := pool.Allocate("a")
	require.NoError(t, err)

	_, err = pool.Allocate("b")
	require.Error(t, err)

	pool.Release("a")
	got, err := pool.Allocate("b")
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	name, ok := pool.Lookup(got)
	assert.True(t, ok)
	assert.Equal(t, "b", name)
}

func TestPoolConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config PoolConfig
	}{
		{"bad subnet", PoolConfig{Subnet: "not-a-cidr"}},
		{"bad gateway", PoolConfig{Subnet: "10.0.0.0/24", Gateway: "x"}},
		{"gateway outside subnet", PoolConfig{Subnet: "10.0.0.0/24", Gateway: "10.0.1.1"}},
		{"bad reserved", PoolConfig{Subnet: "10.0.0.0/24", ReservedAddresses: []string{"nope"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestPoolHonoursReservedAddresses(t *testing.T) {
	pool, err := NewPool(PoolConfig{
		Subnet:            "10.0.0.0/29",
		Gateway:           "10.0.0.6",
		ReservedAddresses: []string{"10.0.0.1", "10.0.0.2"},
	})
	require.NoError(t, err)

	addr, err := pool.Allocate("a")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.3"), addr)
	assert.Equal(t, 2, pool.Available())
}

func TestLastAddr(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"10.0.0.0/8", "10.255.255.255"},
		{"10.1.2.0/24", "10.1.2.255"},
		{"10.1.2.0/29", "10.1.2.7"},
		{"10.1.2.3/32", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := lastAddr(netip.MustParsePrefix(tt.prefix))
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}
}
