package netsim

import (
	"bytes"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"
)

// pipe is one direction of a simulated stream. Writes never block; the
// buffer grows until the reader drains it.
type pipe struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	wclosed  bool
	rclosed  bool
	deadline time.Time
	timer    *time.Timer
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		switch {
		case p.rclosed:
			return 0, ErrConnectionClosed
		case p.buf.Len() > 0:
			return p.buf.Read(b)
		case p.wclosed:
			return 0, io.EOF
		case !p.deadline.IsZero() && !time.Now().Before(p.deadline):
			return 0, ErrDeadlineExceeded
		}
		p.cond.Wait()
	}
}

func (p *pipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wclosed {
		return 0, ErrConnectionClosed
	}
	if p.rclosed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *pipe) closeWrite() {
	p.mu.Lock()
	p.wclosed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipe) closeRead() {
	p.mu.Lock()
	p.rclosed = true
	p.buf.Reset()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipe) setDeadline(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deadline = t
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !t.IsZero() {
		p.timer = time.AfterFunc(time.Until(t), func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
	p.cond.Broadcast()
}

// Conn is one end of a simulated stream connection. It implements net.Conn
// and supports half-close through CloseWrite.
type Conn struct {
	local  *net.TCPAddr
	remote *net.TCPAddr
	rx     *pipe
	tx     *pipe

	deadlineMu    sync.RWMutex
	writeDeadline time.Time

	closeOnce sync.Once
	onClose   func()
}

// newConnPair returns the two ends of a stream between a and b.
func newConnPair(a, b netip.AddrPort) (*Conn, *Conn) {
	ab := newPipe()
	ba := newPipe()

	ca := &Conn{
		local:  net.TCPAddrFromAddrPort(a),
		remote: net.TCPAddrFromAddrPort(b),
		rx:     ba,
		tx:     ab,
	}
	cb := &Conn{
		local:  net.TCPAddrFromAddrPort(b),
		remote: net.TCPAddrFromAddrPort(a),
		rx:     ab,
		tx:     ba,
	}
	return ca, cb
}

// Read implements net.Conn.Read().
func (c *Conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := c.rx.read(b)
	if err != nil && err != io.EOF {
		return n, newNetError("read", c.remote.String(), err)
	}
	return n, err
}

// Write implements net.Conn.Write().
func (c *Conn) Write(b []byte) (int, error) {
	c.deadlineMu.RLock()
	deadline := c.writeDeadline
	c.deadlineMu.RUnlock()

	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return 0, newNetError("write", c.remote.String(), ErrDeadlineExceeded)
	}

	n, err := c.tx.write(b)
	if err != nil {
		return n, newNetError("write", c.remote.String(), err)
	}
	return n, nil
}

// CloseWrite shuts down the sending side. The peer reads io.EOF once it
// has drained everything written before the call.
func (c *Conn) CloseWrite() error {
	c.tx.closeWrite()
	return nil
}

// Close implements net.Conn.Close().
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.tx.closeWrite()
		c.rx.closeRead()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// LocalAddr implements net.Conn.LocalAddr().
func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr implements net.Conn.RemoteAddr().
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// SetDeadline implements net.Conn.SetDeadline().
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.SetReadDeadline().
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.rx.setDeadline(t)
	return nil
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline().
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}
