package netsim

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T) *Fabric {
	t.Helper()
	fabric, err := NewFabric(FabricConfig{Subnet: "10.9.0.0/24"})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })
	return fabric
}

func TestFabricDialAndAccept(t *testing.T) {
	fabric := newTestFabric(t)

	server, err := fabric.Attach("server")
	require.NoError(t, err)
	client, err := fabric.Attach("client")
	require.NoError(t, err)
	assert.NotEqual(t, server.Addr(), client.Addr())

	ln, err := server.Listen(1025)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := client.Dial(context.Background(), netip.AddrPortFrom(server.Addr(), 1025))
	require.NoError(t, err)
	defer conn.Close()

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener did not accept the connection")
	}
	defer peer.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	remote := peer.RemoteAddr().(*net.TCPAddr)
	assert.Equal(t, client.Addr(), remote.AddrPort().Addr())
	assert.Equal(t, server.Addr(), conn.RemoteAddr().(*net.TCPAddr).AddrPort().Addr())

	log := fabric.DialLog()
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, client.Addr(), log[0].From.Addr())
}

func TestFabricRefusesWithoutListener(t *testing.T) {
	fabric := newTestFabric(t)

	a, err := fabric.Attach("a")
	require.NoError(t, err)
	b, err := fabric.Attach("b")
	require.NoError(t, err)

	_, err = a.Dial(context.Background(), netip.AddrPortFrom(b.Addr(), 1025))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionRefused))

	var netErr *NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "dial", netErr.Op)

	_, err = a.Dial(context.Background(), netip.MustParseAddrPort("172.16.0.1:80"))
	assert.True(t, errors.Is(err, ErrAddressOutOfRange))

	stats := fabric.Stats()
	assert.Equal(t, 2, stats["total_dials"])
	assert.Equal(t, 2, stats["failed_dials"])
}

func TestFabricDialHonoursCancelledContext(t *testing.T) {
	fabric := newTestFabric(t)
	a, err := fabric.Attach("a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Dial(ctx, netip.AddrPortFrom(a.Addr(), 1))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestListenAddressInUse(t *testing.T) {
	fabric := newTestFabric(t)
	h, err := fabric.Attach("h")
	require.NoError(t, err)

	ln, err := h.Listen(4000)
	require.NoError(t, err)

	_, err = h.Listen(4000)
	assert.True(t, errors.Is(err, ErrAddressInUse))

	require.NoError(t, ln.Close())
	ln2, err := h.Listen(4000)
	require.NoError(t, err, "port is free again after close")
	ln2.Close()
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	fabric := newTestFabric(t)
	h, err := fabric.Attach("h")
	require.NoError(t, err)

	ln, err := h.Listen(0)
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	assert.GreaterOrEqual(t, port, int(ephemeralPortStart))

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	ln.Close()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrListenerClosed))
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestHostCloseReleasesAddress(t *testing.T) {
	fabric, err := NewFabric(FabricConfig{Subnet: "10.0.0.0/30"})
	require.NoError(t, err)
	defer fabric.Close()

	a, err := fabric.Attach("a")
	require.NoError(t, err)

	_, err = fabric.Attach("b")
	require.True(t, errors.Is(err, ErrNoAvailableAddress))

	require.NoError(t, a.Close())
	_, ok := fabric.Host("a")
	assert.False(t, ok)

	b, err := fabric.Attach("b")
	require.NoError(t, err)
	assert.Equal(t, a.Addr(), b.Addr())
}

func TestFabricCloseRefusesAttach(t *testing.T) {
	fabric, err := NewFabric(DefaultFabricConfig())
	require.NoError(t, err)
	require.NoError(t, fabric.Close())

	_, err = fabric.Attach("late")
	assert.True(t, errors.Is(err, ErrFabricClosed))
}

func TestFabricRejectsDuplicateHostName(t *testing.T) {
	fabric := newTestFabric(t)
	_, err := fabric.Attach("dup")
	require.NoError(t, err)
	_, err = fabric.Attach("dup")
	assert.Error(t, err)
}
