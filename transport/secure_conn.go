package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	toxnoise "github.com/opd-ai/p2pharness/noise"
	"github.com/sirupsen/logrus"
)

// DefaultHandshakeTimeout bounds a handshake when the caller passes zero.
const DefaultHandshakeTimeout = 10 * time.Second

// halfCloser is implemented by stream connections that can shut down their
// write side alone.
type halfCloser interface {
	CloseWrite() error
}

// SecureConn is a net.Conn whose traffic is encrypted with the cipher
// states of a completed Noise XX handshake. Each Write is split into
// frames of at most MaxPlaintextSize bytes.
type SecureConn struct {
	conn   net.Conn
	role   toxnoise.HandshakeRole
	remote []byte

	readMu  sync.Mutex
	recv    *noise.CipherState
	pending []byte

	writeMu sync.Mutex
	send    *noise.CipherState
}

// Handshake runs a Noise XX handshake over conn and returns the secured
// connection. The dialing side must be the Initiator. timeout bounds the
// whole exchange; zero uses DefaultHandshakeTimeout. On failure conn is
// left open for the caller to close.
func Handshake(conn net.Conn, role toxnoise.HandshakeRole, keys *toxnoise.KeyPair, timeout time.Duration) (*SecureConn, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Handshake",
		"role":     role.String(),
		"local":    conn.LocalAddr().String(),
		"remote":   conn.RemoteAddr().String(),
	})

	hs, err := toxnoise.NewXXHandshake(keys, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrHandshakeFailed, err)
	}

	if role == toxnoise.Initiator {
		err = runInitiator(conn, hs)
	} else {
		err = runResponder(conn, hs)
	}
	if err != nil {
		logger.WithError(err).Debug("Handshake failed")
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: clear deadline: %w", ErrHandshakeFailed, err)
	}

	send, recv, err := hs.GetCipherStates()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	remote, err := hs.GetRemoteStaticKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	logger.Debug("Handshake complete")
	return &SecureConn{
		conn:   conn,
		role:   role,
		remote: remote,
		send:   send,
		recv:   recv,
	}, nil
}

// runInitiator: -> e, <- e ee s es, -> s se
func runInitiator(conn net.Conn, hs *toxnoise.XXHandshake) error {
	if err := writeHandshake(conn, hs); err != nil {
		return err
	}
	if err := readHandshake(conn, hs); err != nil {
		return err
	}
	return writeHandshake(conn, hs)
}

func runResponder(conn net.Conn, hs *toxnoise.XXHandshake) error {
	if err := readHandshake(conn, hs); err != nil {
		return err
	}
	if err := writeHandshake(conn, hs); err != nil {
		return err
	}
	return readHandshake(conn, hs)
}

func writeHandshake(conn net.Conn, hs *toxnoise.XXHandshake) error {
	msg, _, err := hs.WriteMessage(nil)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, msg); err != nil {
		return fmt.Errorf("write handshake message: %w", err)
	}
	return nil
}

func readHandshake(conn net.Conn, hs *toxnoise.XXHandshake) error {
	msg, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("read handshake message: %w", err)
	}
	_, _, err = hs.ReadMessage(msg)
	return err
}

// Read decrypts the next frame into b. It returns io.EOF once the peer has
// closed its write side at a frame boundary.
func (c *SecureConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		frame, err := readFrame(c.conn)
		if err != nil {
			return 0, err
		}
		plain, err := c.recv.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, fmt.Errorf("decrypt frame: %w", err)
		}
		c.pending = plain
	}

	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write encrypts b and sends it as one or more frames.
func (c *SecureConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(b) {
		end := written + MaxPlaintextSize
		if end > len(b) {
			end = len(b)
		}

		sealed, err := c.send.Encrypt(nil, nil, b[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt frame: %w", err)
		}
		if err := writeFrame(c.conn, sealed); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// CloseWrite shuts down the write side so the peer reads io.EOF, when the
// underlying connection supports half-close.
func (c *SecureConn) CloseWrite() error {
	hc, ok := c.conn.(halfCloser)
	if !ok {
		return errors.New("underlying connection does not support half-close")
	}
	return hc.CloseWrite()
}

// Close closes the underlying connection.
func (c *SecureConn) Close() error {
	return c.conn.Close()
}

// RemoteStatic returns the peer's static public key learned during the
// handshake.
func (c *SecureConn) RemoteStatic() []byte {
	key := make([]byte, len(c.remote))
	copy(key, c.remote)
	return key
}

// Role returns the side this connection played in the handshake.
func (c *SecureConn) Role() toxnoise.HandshakeRole {
	return c.role
}

func (c *SecureConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *SecureConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *SecureConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *SecureConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *SecureConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var (
	_ net.Conn   = (*SecureConn)(nil)
	_ halfCloser = (*SecureConn)(nil)
)
