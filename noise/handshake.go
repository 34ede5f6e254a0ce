package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator sends the first handshake message (the dialing side)
	Initiator HandshakeRole = iota
	// Responder answers the first message (the accepting side)
	Responder
)

// String returns a string representation of the role.
func (r HandshakeRole) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// MessageCount is the number of messages in an XX handshake.
const MessageCount = 3

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// XXHandshake implements the Noise XX pattern. Neither side needs the
// other's static key in advance; both learn and authenticate it during the
// exchange.
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
type XXHandshake struct {
	role        HandshakeRole
	state       *noise.HandshakeState
	sendCipher  *noise.CipherState
	recvCipher  *noise.CipherState
	complete    bool
	localPubKey []byte
}

// NewXXHandshake creates a new XX pattern handshake for the given static key.
func NewXXHandshake(keys *KeyPair, role HandshakeRole) (*XXHandshake, error) {
	if keys == nil {
		return nil, errors.New("static key pair is required")
	}
	if role != Initiator && role != Responder {
		return nil, fmt.Errorf("unknown handshake role %d", role)
	}
	if isZeroKey(keys.Private[:]) {
		return nil, ErrZeroKey
	}

	staticKey := noise.DHKey{
		Private: make([]byte, KeySize),
		Public:  make([]byte, KeySize),
	}
	copy(staticKey.Private, keys.Private[:])
	copy(staticKey.Public, keys.Public[:])

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create XX handshake state: %w", err)
	}

	return &XXHandshake{
		role:        role,
		state:       hs,
		localPubKey: staticKey.Public,
	}, nil
}

// Role returns which side of the handshake this is.
func (xx *XXHandshake) Role() HandshakeRole {
	return xx.role
}

// WriteMessage produces the next outgoing handshake message carrying
// payload. complete is true once the session ciphers are available.
func (xx *XXHandshake) WriteMessage(payload []byte) (message []byte, complete bool, err error) {
	if xx.complete {
		return nil, false, ErrHandshakeComplete
	}

	message, cs1, cs2, err := xx.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("XX handshake write failed: %w", err)
	}
	xx.finish(cs1, cs2)
	return message, xx.complete, nil
}

// ReadMessage consumes an incoming handshake message and returns its
// payload.
func (xx *XXHandshake) ReadMessage(message []byte) (payload []byte, complete bool, err error) {
	if xx.complete {
		return nil, false, ErrHandshakeComplete
	}

	payload, cs1, cs2, err := xx.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	xx.finish(cs1, cs2)
	return payload, xx.complete, nil
}

// finish records the split cipher states. The first protects
// initiator-to-responder traffic, the second the reverse direction.
func (xx *XXHandshake) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if xx.role == Initiator {
		xx.sendCipher, xx.recvCipher = cs1, cs2
	} else {
		xx.sendCipher, xx.recvCipher = cs2, cs1
	}
	xx.complete = true
}

// IsComplete returns whether the XX handshake is complete.
func (xx *XXHandshake) IsComplete() bool {
	return xx.complete
}

// GetCipherStates returns the send and receive cipher states.
func (xx *XXHandshake) GetCipherStates() (send, recv *noise.CipherState, err error) {
	if !xx.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return xx.sendCipher, xx.recvCipher, nil
}

// GetRemoteStaticKey returns the peer's static key after completion.
func (xx *XXHandshake) GetRemoteStaticKey() ([]byte, error) {
	if !xx.complete {
		return nil, ErrHandshakeNotComplete
	}

	remote := xx.state.PeerStatic()
	if len(remote) == 0 {
		return nil, errors.New("remote static key not available")
	}
	key := make([]byte, len(remote))
	copy(key, remote)
	return key, nil
}

// GetLocalStaticKey returns a copy of our static public key.
func (xx *XXHandshake) GetLocalStaticKey() []byte {
	key := make([]byte, len(xx.localPubKey))
	copy(key, xx.localPubKey)
	return key
}
