package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/p2pharness/netsim"
	toxnoise "github.com/opd-ai/p2pharness/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectedPair returns both ends of a stream between two simulated hosts.
func connectedPair(t *testing.T) (client, server *netsim.Conn) {
	t.Helper()

	fabric, err := netsim.NewFabric(netsim.FabricConfig{Subnet: "10.7.0.0/24"})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })

	a, err := fabric.Attach("a")
	require.NoError(t, err)
	b, err := fabric.Attach("b")
	require.NoError(t, err)

	ln, err := b.Listen(4000)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialed, err := a.Dial(context.Background(), netip.AddrPortFrom(b.Addr(), 4000))
	require.NoError(t, err)
	client, ok := dialed.(*netsim.Conn)
	require.True(t, ok, "dial returned %T", dialed)

	select {
	case conn := <-accepted:
		server, ok = conn.(*netsim.Conn)
		require.True(t, ok, "accept returned %T", conn)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

type handshakeResult struct {
	conn *SecureConn
	err  error
}

func securePair(t *testing.T) (initiator, responder *SecureConn, ik, rk *toxnoise.KeyPair) {
	t.Helper()
	client, server := connectedPair(t)

	ik, err := toxnoise.GenerateKeyPair()
	require.NoError(t, err)
	rk, err = toxnoise.GenerateKeyPair()
	require.NoError(t, err)

	done := make(chan handshakeResult, 1)
	go func() {
		conn, err := Handshake(server, toxnoise.Responder, rk, time.Second)
		done <- handshakeResult{conn, err}
	}()

	initiator, err = Handshake(client, toxnoise.Initiator, ik, time.Second)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.err)
	return initiator, res.conn, ik, rk
}

func TestHandshakeExchangesStaticKeys(t *testing.T) {
	initiator, responder, ik, rk := securePair(t)

	assert.Equal(t, rk.Public[:], initiator.RemoteStatic())
	assert.Equal(t, ik.Public[:], responder.RemoteStatic())
	assert.Equal(t, toxnoise.Initiator, initiator.Role())
	assert.Equal(t, toxnoise.Responder, responder.Role())
}

func TestSecureConnRoundTripAndHalfClose(t *testing.T) {
	initiator, responder, _, _ := securePair(t)

	go func() {
		initiator.Write([]byte("Hello "))
		initiator.Write([]byte("World"))
		initiator.CloseWrite()
	}()

	got, err := io.ReadAll(responder)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(got))

	// the other direction is still open
	go func() {
		responder.Write([]byte("ack"))
		responder.CloseWrite()
	}()
	got, err = io.ReadAll(initiator)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(got))
}

func TestSecureConnLargeWriteIsFramed(t *testing.T) {
	initiator, responder, _, _ := securePair(t)

	payload := bytes.Repeat([]byte("0123456789"), 20000)
	go func() {
		n, err := initiator.Write(payload)
		if err == nil && n == len(payload) {
			initiator.CloseWrite()
		}
	}()

	got, err := io.ReadAll(responder)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestHandshakeTimeout(t *testing.T) {
	client, _ := connectedPair(t)
	kp, err := toxnoise.GenerateKeyPair()
	require.NoError(t, err)

	// nobody answers on the other side
	_, err = Handshake(client, toxnoise.Initiator, kp, 30*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeFailed)

	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())
}

func TestHandshakeRejectsGarbage(t *testing.T) {
	client, server := connectedPair(t)
	kp, err := toxnoise.GenerateKeyPair()
	require.NoError(t, err)

	go func() {
		writeFrame(client, []byte("not a noise message"))
		client.CloseWrite()
	}()

	_, err = Handshake(server, toxnoise.Responder, kp, time.Second)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestReadTamperedFrame(t *testing.T) {
	client, server := connectedPair(t)
	ik, err := toxnoise.GenerateKeyPair()
	require.NoError(t, err)
	rk, err := toxnoise.GenerateKeyPair()
	require.NoError(t, err)

	done := make(chan handshakeResult, 1)
	go func() {
		conn, err := Handshake(server, toxnoise.Responder, rk, time.Second)
		done <- handshakeResult{conn, err}
	}()
	_, err = Handshake(client, toxnoise.Initiator, ik, time.Second)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.err)

	// a frame sealed by nobody
	go writeFrame(client, bytes.Repeat([]byte{0xAB}, 40))

	_, err = res.conn.Read(make([]byte, 64))
	assert.ErrorContains(t, err, "decrypt frame")
}

func TestFrameHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("abc")))
	require.NoError(t, writeFrame(&buf, nil))

	frame, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(frame))

	frame, err = readFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, frame)

	_, err = readFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)

	err = writeFrame(&buf, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	truncated := bytes.NewReader([]byte{0, 5, 'a', 'b'})
	_, err = readFrame(truncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
