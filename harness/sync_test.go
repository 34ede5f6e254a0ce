package harness

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseResolveThenAwait(t *testing.T) {
	p := newPromise[int]()
	p.resolve(7)

	v, err := p.await(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPromiseResolveTwicePanics(t *testing.T) {
	p := newPromise[int]()
	p.resolve(1)
	assert.Panics(t, func() { p.resolve(2) })
}

func TestPromiseAbandoned(t *testing.T) {
	p := newPromise[string]()
	exited := make(chan struct{})
	close(exited)

	_, err := p.await(context.Background(), exited, nil)
	assert.ErrorIs(t, err, errAbandoned)
}

func TestPromiseResolvedBeforeExit(t *testing.T) {
	p := newPromise[string]()
	exited := make(chan struct{})
	p.resolve("addr")
	close(exited)

	// both channels are ready; the value must win either way
	for i := 0; i < 10; i++ {
		q := newPromise[string]()
		q.resolve("addr")
		v, err := q.await(context.Background(), exited, nil)
		require.NoError(t, err)
		assert.Equal(t, "addr", v)
	}
}

func TestPromiseContextCancelled(t *testing.T) {
	p := newPromise[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.await(ctx, make(chan struct{}), make(chan struct{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectQueue(t *testing.T) {
	q := newConnectQueue(2)
	a := netip.MustParseAddr("10.0.0.2")
	b := netip.MustParseAddr("10.0.0.3")

	q.push(a)
	q.push(b)
	assert.Panics(t, func() { q.push(a) })
	q.close()
	q.close()

	ctx := context.Background()
	for _, want := range []netip.Addr{a, b} {
		got, ok, err := q.next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok, err := q.next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectQueueNextBlocksUntilCancelled(t *testing.T) {
	q := newConnectQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := q.next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroCapacityQueueCloses(t *testing.T) {
	slot := newNodeSlot(NodeID{name: "leaf"}, 0)
	slot.connects.close()

	_, ok, err := slot.connects.next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
