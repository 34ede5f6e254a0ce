package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/opd-ai/p2pharness/harness"
	"github.com/opd-ai/p2pharness/noise"
	"github.com/opd-ai/p2pharness/transport"
	"github.com/sirupsen/logrus"
)

// Node is a running Sender or Receiver. It accepts streams on its listener
// and opens one stream per ConnectTo. Every stream is secured with a Noise
// XX handshake; a sender then writes its payload, both sides half-close,
// and each reads until the other closes.
type Node struct {
	id       harness.NodeID
	kind     Kind
	host     harness.Host
	config   Config
	keys     *noise.KeyPair
	listener net.Listener
	log      *logrus.Entry

	streams    sync.WaitGroup
	acceptDone chan struct{}
	notify     chan struct{}

	mu        sync.Mutex
	completed int
	failed    int
	received  [][]byte
	active    map[net.Conn]struct{}
	waited    bool
}

// New starts a node on host: it generates the node's static key and
// begins accepting streams on config.Port.
func New(id harness.NodeID, kind Kind, host harness.Host, config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}

	keys, err := noise.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}

	listener, err := host.Listen(config.Port)
	if err != nil {
		keys.Wipe()
		return nil, fmt.Errorf("node %s: listen: %w", id, err)
	}

	n := &Node{
		id:         id,
		kind:       kind,
		host:       host,
		config:     config,
		keys:       keys,
		listener:   listener,
		acceptDone: make(chan struct{}),
		notify:     make(chan struct{}, 1),
		active:     make(map[net.Conn]struct{}),
		log: logrus.WithFields(logrus.Fields{
			"node": id.String(),
			"kind": kind.String(),
			"addr": host.Addr().String(),
		}),
	}

	go n.acceptLoop()

	n.log.WithFields(logrus.Fields{
		"function": "New",
		"port":     config.Port,
		"expected": config.Expected,
	}).Debug("Node listening")
	return n, nil
}

// ID returns the node's id.
func (n *Node) ID() harness.NodeID {
	return n.id
}

// Kind returns the node's role.
func (n *Node) Kind() Kind {
	return n.kind
}

// PublicKey returns the node's static Noise public key.
func (n *Node) PublicKey() []byte {
	key := make([]byte, noise.KeySize)
	copy(key, n.keys.Public[:])
	return key
}

// ConnectTo opens a stream to addr in the background. Failures are logged
// and count as a finished stream.
func (n *Node) ConnectTo(ctx context.Context, addr netip.Addr) {
	target := netip.AddrPortFrom(addr, n.config.Port)
	n.streams.Add(1)
	go func() {
		defer n.streams.Done()

		conn, err := n.host.Dial(ctx, target)
		if err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "ConnectTo",
				"target":   target.String(),
				"error":    err.Error(),
			}).Warn("Dial failed")
			n.finish(nil, err)
			return
		}
		n.serve(conn, noise.Initiator)
	}()
}

func (n *Node) acceptLoop() {
	defer close(n.acceptDone)
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		n.streams.Add(1)
		go func() {
			defer n.streams.Done()
			n.serve(conn, noise.Responder)
		}()
	}
}

// serve runs one stream to completion.
func (n *Node) serve(conn net.Conn, role noise.HandshakeRole) {
	if !n.track(conn) {
		conn.Close()
		n.finish(nil, net.ErrClosed)
		return
	}
	defer n.untrack(conn)
	defer conn.Close()

	log := n.log.WithFields(logrus.Fields{
		"function": "serve",
		"remote":   conn.RemoteAddr().String(),
		"role":     role.String(),
	})

	secure, err := transport.Handshake(conn, role, n.keys, n.config.HandshakeTimeout)
	if err != nil {
		log.WithError(err).Warn("Handshake failed")
		n.finish(nil, err)
		return
	}

	if n.kind == Sender {
		payload := n.config.payloadFor(n.id.String())
		if _, err := secure.Write(payload); err != nil {
			log.WithError(err).Warn("Send failed")
			n.finish(nil, err)
			return
		}
		log.WithField("bytes", len(payload)).Debug("Sent")
	}
	if err := secure.CloseWrite(); err != nil {
		log.WithError(err).Warn("Half-close failed")
	}

	data, err := io.ReadAll(secure)
	if err != nil {
		log.WithError(err).Warn("Receive failed")
		n.finish(nil, err)
		return
	}
	log.WithField("bytes", len(data)).Debug("Stream closed by peer")
	n.finish(data, nil)
}

func (n *Node) track(conn net.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active == nil {
		return false
	}
	n.active[conn] = struct{}{}
	return true
}

func (n *Node) untrack(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.active, conn)
}

// finish records the end of one stream.
func (n *Node) finish(data []byte, err error) {
	n.mu.Lock()
	n.completed++
	if err != nil {
		n.failed++
	} else if n.kind == Receiver && len(data) > 0 {
		n.received = append(n.received, data)
	}
	n.mu.Unlock()

	select {
	case n.notify <- struct{}{}:
	default:
	}
}

// Stats returns how many streams finished and how many of those failed.
func (n *Node) Stats() (completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completed, n.failed
}

// Wait blocks until config.Expected streams have finished, then stops the
// node. Senders return nil. Receivers return every chunk they read,
// sorted bytewise and concatenated, so the result does not depend on
// arrival order. Wait may be called once.
func (n *Node) Wait(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	if n.waited {
		n.mu.Unlock()
		return nil, errors.New("wait already called")
	}
	n.waited = true
	n.mu.Unlock()

	n.log.WithField("function", "Wait").Debug("Running")

	var waitErr error
	for waitErr == nil {
		n.mu.Lock()
		done := n.completed >= n.config.Expected
		n.mu.Unlock()
		if done {
			break
		}

		select {
		case <-n.notify:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	n.shutdown()

	if waitErr != nil {
		completed, _ := n.Stats()
		return nil, fmt.Errorf("node %s: %d of %d streams finished: %w", n.id, completed, n.config.Expected, waitErr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"function":  "Wait",
		"completed": n.completed,
		"failed":    n.failed,
	}).Info("Node finished")

	if n.kind != Receiver {
		return nil, nil
	}

	chunks := slices.Clone(n.received)
	slices.SortFunc(chunks, bytes.Compare)
	return bytes.Join(chunks, nil), nil
}

// shutdown closes the listener and any stream still open, then waits for
// every stream goroutine to return.
func (n *Node) shutdown() {
	n.listener.Close()
	<-n.acceptDone

	n.mu.Lock()
	for conn := range n.active {
		conn.Close()
	}
	n.active = nil
	n.mu.Unlock()

	n.streams.Wait()
	n.keys.Wipe()
}

var _ harness.RunningNode[[]byte] = (*Node)(nil)
