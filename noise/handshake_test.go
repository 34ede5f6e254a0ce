package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t testing.TB) (*XXHandshake, *XXHandshake, *KeyPair, *KeyPair) {
	t.Helper()
	ik, err := GenerateKeyPair()
	require.NoError(t, err)
	rk, err := GenerateKeyPair()
	require.NoError(t, err)

	initiator, err := NewXXHandshake(ik, Initiator)
	require.NoError(t, err)
	responder, err := NewXXHandshake(rk, Responder)
	require.NoError(t, err)
	return initiator, responder, ik, rk
}

// runXX drives a full three-message exchange.
func runXX(t testing.TB, initiator, responder *XXHandshake) {
	t.Helper()

	msg1, complete, err := initiator.WriteMessage(nil)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = responder.ReadMessage(msg1)
	require.NoError(t, err)
	require.False(t, complete)

	msg2, complete, err := responder.WriteMessage([]byte("responder"))
	require.NoError(t, err)
	require.False(t, complete)

	payload, complete, err := initiator.ReadMessage(msg2)
	require.NoError(t, err)
	require.False(t, complete)
	require.Equal(t, []byte("responder"), payload)

	msg3, complete, err := initiator.WriteMessage([]byte("initiator"))
	require.NoError(t, err)
	require.True(t, complete)

	payload, complete, err = responder.ReadMessage(msg3)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, []byte("initiator"), payload)
}

func TestXXHandshakeFlow(t *testing.T) {
	initiator, responder, ik, rk := newPair(t)
	runXX(t, initiator, responder)

	assert.True(t, initiator.IsComplete())
	assert.True(t, responder.IsComplete())

	remote, err := initiator.GetRemoteStaticKey()
	require.NoError(t, err)
	assert.Equal(t, rk.Public[:], remote)

	remote, err = responder.GetRemoteStaticKey()
	require.NoError(t, err)
	assert.Equal(t, ik.Public[:], remote)

	assert.Equal(t, ik.Public[:], initiator.GetLocalStaticKey())
	assert.Equal(t, Responder, responder.Role())
}

func TestXXCipherStatesAreCrossed(t *testing.T) {
	initiator, responder, _, _ := newPair(t)
	runXX(t, initiator, responder)

	iSend, iRecv, err := initiator.GetCipherStates()
	require.NoError(t, err)
	rSend, rRecv, err := responder.GetCipherStates()
	require.NoError(t, err)

	ct, err := iSend.Encrypt(nil, nil, []byte("to responder"))
	require.NoError(t, err)
	pt, err := rRecv.Decrypt(nil, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, "to responder", string(pt))

	ct, err = rSend.Encrypt(nil, nil, []byte("to initiator"))
	require.NoError(t, err)
	pt, err = iRecv.Decrypt(nil, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, "to initiator", string(pt))
}

func TestXXHandshakeIncompleteErrors(t *testing.T) {
	initiator, _, _, _ := newPair(t)

	_, _, err := initiator.GetCipherStates()
	assert.ErrorIs(t, err, ErrHandshakeNotComplete)
	_, err = initiator.GetRemoteStaticKey()
	assert.ErrorIs(t, err, ErrHandshakeNotComplete)
}

func TestXXHandshakeCompleteErrors(t *testing.T) {
	initiator, responder, _, _ := newPair(t)
	runXX(t, initiator, responder)

	_, _, err := initiator.WriteMessage(nil)
	assert.ErrorIs(t, err, ErrHandshakeComplete)
	_, _, err = responder.ReadMessage([]byte("late"))
	assert.ErrorIs(t, err, ErrHandshakeComplete)
}

func TestXXHandshakeRejectsGarbage(t *testing.T) {
	initiator, responder, _, _ := newPair(t)

	msg1, _, err := initiator.WriteMessage(nil)
	require.NoError(t, err)
	_, _, err = responder.ReadMessage(msg1)
	require.NoError(t, err)
	msg2, _, err := responder.WriteMessage(nil)
	require.NoError(t, err)

	msg2[len(msg2)-1] ^= 0xff
	_, _, err = initiator.ReadMessage(msg2)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestNewXXHandshakeValidation(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		keys *KeyPair
		role HandshakeRole
	}{
		{"nil keys", nil, Initiator},
		{"zero key", &KeyPair{}, Responder},
		{"bad role", kp, HandshakeRole(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewXXHandshake(tt.keys, tt.role)
			assert.Error(t, err)
		})
	}
}

func TestHandshakeRoleString(t *testing.T) {
	assert.Equal(t, "initiator", Initiator.String())
	assert.Equal(t, "responder", Responder.String())
	assert.Equal(t, "unknown", HandshakeRole(9).String())
}

// FuzzXXReadMessage feeds arbitrary first messages to a responder. It must
// never panic.
func FuzzXXReadMessage(f *testing.F) {
	initiator, _, _, _ := newPair(f)
	msg1, _, err := initiator.WriteMessage(nil)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(msg1)
	f.Add([]byte{})
	f.Add(make([]byte, 1024))

	f.Fuzz(func(t *testing.T, data []byte) {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		responder, err := NewXXHandshake(kp, Responder)
		if err != nil {
			t.Fatal(err)
		}
		_, _, _ = responder.ReadMessage(data)
	})
}

func BenchmarkXXHandshake(b *testing.B) {
	for i := 0; i < b.N; i++ {
		initiator, responder, _, _ := newPair(b)
		runXX(b, initiator, responder)
	}
}
