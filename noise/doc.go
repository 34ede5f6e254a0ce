// Package noise provides the key material and the Noise XX handshake used
// to secure streams between test nodes.
//
// The handshake runs over the formally verified flynn/noise library with
// Curve25519 key exchange, ChaCha20-Poly1305 and SHA256.
//
// # Keys
//
// Every node owns a static KeyPair. GenerateKeyPair draws a fresh one;
// FromSecretKey rebuilds the public half from a stored private key.
//
// # XX Pattern
//
// XX needs no prior knowledge of the peer's key, which suits test networks
// where nodes are created on the fly:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e
//	                                       <- e, ee, s, es
//	-> s, se
//	[session established]
//
// Example usage:
//
//	hs, err := noise.NewXXHandshake(keys, noise.Initiator)
//	if err != nil {
//	    return err
//	}
//	msg1, _, _ := hs.WriteMessage(nil)     // send msg1
//	_, _, err = hs.ReadMessage(msg2)       // receive msg2
//	msg3, complete, _ := hs.WriteMessage(nil)
//	if complete {
//	    send, recv, _ := hs.GetCipherStates()
//	}
//
// The transport package drives this exchange over a net.Conn.
package noise
