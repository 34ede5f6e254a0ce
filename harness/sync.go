package harness

import (
	"context"
	"errors"
	"net/netip"
	"sync"
)

// errAbandoned reports that the producer of a promise exited without
// resolving it.
var errAbandoned = errors.New("producer exited before resolving")

// promise is a single-slot, single-producer, single-consumer value. resolve
// never blocks.
type promise[T any] struct {
	ch chan T
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{ch: make(chan T, 1)}
}

func (p *promise[T]) resolve(v T) {
	select {
	case p.ch <- v:
	default:
		panic("harness: promise resolved twice")
	}
}

// await blocks until the promise is resolved, either abandoned channel is
// closed, or ctx ends.
func (p *promise[T]) await(ctx context.Context, exited, joined <-chan struct{}) (T, error) {
	var zero T
	select {
	case v := <-p.ch:
		return v, nil
	case <-exited:
	case <-joined:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	// the producer may have resolved just before exiting
	select {
	case v := <-p.ch:
		return v, nil
	default:
		return zero, errAbandoned
	}
}

// connectQueue is the closable stream of addresses a node dials. Its
// capacity is the node's out-degree, so the control goroutine never blocks
// pushing into it.
type connectQueue struct {
	ch        chan netip.Addr
	closeOnce sync.Once
}

func newConnectQueue(capacity int) *connectQueue {
	return &connectQueue{ch: make(chan netip.Addr, capacity)}
}

func (q *connectQueue) push(addr netip.Addr) {
	select {
	case q.ch <- addr:
	default:
		panic("harness: connect queue overflow")
	}
}

func (q *connectQueue) close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// next returns the next queued address. ok is false once the queue is
// closed and drained.
func (q *connectQueue) next(ctx context.Context) (addr netip.Addr, ok bool, err error) {
	select {
	case addr, ok = <-q.ch:
		return addr, ok, nil
	case <-ctx.Done():
		return netip.Addr{}, false, ctx.Err()
	}
}

// nodeSlot holds the channels reserved for one node when the run is
// created.
type nodeSlot struct {
	id       NodeID
	address  *promise[netip.Addr]
	ready    *promise[struct{}]
	connects *connectQueue
	exited   chan struct{}
}

func newNodeSlot(id NodeID, outDegree int) *nodeSlot {
	return &nodeSlot{
		id:       id,
		address:  newPromise[netip.Addr](),
		ready:    newPromise[struct{}](),
		connects: newConnectQueue(outDegree),
		exited:   make(chan struct{}),
	}
}
