package keyagreement

import (
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStaticKeyPair(t *testing.T) (priv [32]byte, pub []byte) {
	t.Helper()
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	pub, err = curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	return priv, pub
}

func TestNoiseAgreementCompletesAndDerivesDistinctKeyMaterial(t *testing.T) {
	initiatorPriv, initiatorPub := newStaticKeyPair(t)
	responderPriv, responderPub := newStaticKeyPair(t)

	initiator, err := NewNoiseAgreement(true, initiatorPriv, responderPub)
	require.NoError(t, err)
	responder, err := NewNoiseAgreement(false, responderPriv, initiatorPub)
	require.NoError(t, err)

	msg1, done, err := initiator.Step(nil)
	require.NoError(t, err)
	require.False(t, done)
	require.NotNil(t, msg1)

	msg2, responderDone, err := responder.Step(msg1)
	require.NoError(t, err)
	require.True(t, responderDone)

	_, initiatorDone, err := initiator.Step(msg2)
	require.NoError(t, err)
	require.True(t, initiatorDone)

	initiatorKeys, err := initiator.KeyMaterial()
	require.NoError(t, err)
	responderKeys, err := responder.KeyMaterial()
	require.NoError(t, err)

	assert.NotEqual(t, initiatorKeys.EncKey, responderKeys.EncKey,
		"each side derives key material from its own send direction")
}

func TestKeyMaterialFailsBeforeCompletion(t *testing.T) {
	priv, pub := newStaticKeyPair(t)
	_, peerPub := newStaticKeyPair(t)
	_ = pub

	a, err := NewNoiseAgreement(true, priv, peerPub)
	require.NoError(t, err)

	_, err = a.KeyMaterial()
	assert.ErrorIs(t, err, ErrNotComplete)
}
