// Package transport secures stream connections between test nodes with the
// Noise XX handshake.
//
// Handshake runs the three handshake messages over any net.Conn, using
// 2-byte big-endian length-prefixed frames, and returns a SecureConn. The
// dialing side is the initiator:
//
//	conn, err := host.Dial(ctx, addr)
//	if err != nil {
//	    return err
//	}
//	secure, err := transport.Handshake(conn, noise.Initiator, keys, 5*time.Second)
//	if err != nil {
//	    conn.Close()
//	    return err
//	}
//	secure.Write(payload)
//	secure.CloseWrite()
//
// A SecureConn is itself a net.Conn. Application data is sealed with
// ChaCha20-Poly1305 in frames of at most MaxPlaintextSize bytes. CloseWrite
// is passed to the underlying connection so the peer reads io.EOF at a
// frame boundary.
package transport
