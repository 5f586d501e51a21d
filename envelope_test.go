package prism

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := SecureRandom(EnvelopeKeySize)
	require.NoError(t, err)

	env, err := Seal(key, []byte("share"), purposeBundle)
	require.NoError(t, err)

	got, err := Open(key, env, purposeBundle)
	require.NoError(t, err)
	assert.Equal(t, []byte("share"), got)

	_, err = Open(key, env, purposeSession)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "wrong purpose")

	other, _ := SecureRandom(EnvelopeKeySize)
	_, err = Open(other, env, purposeBundle)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "wrong key")

	env[len(env)-1] ^= 0xff
	_, err = Open(key, env, purposeBundle)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "tampered")

	_, err = Open(key, env[:10], purposeBundle)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "truncated")
}

func TestPairwiseKeyIsSymmetric(t *testing.T) {
	curve := NewEd25519Curve()
	a, _ := curve.ScalarRandom()
	b, _ := curve.ScalarRandom()
	pa, pb := curve.BasePoint().Mul(a), curve.BasePoint().Mul(b)

	ab, err := PairwiseKey(a, pa, pb)
	require.NoError(t, err)
	ba, err := PairwiseKey(b, pb, pa)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, EnvelopeKeySize)

	self, err := PairwiseKey(a, pa, pa)
	require.NoError(t, err)
	assert.NotEqual(t, ab, self)

	_, err = PairwiseKey(a, pa, curve.PointIdentity())
	assert.ErrorIs(t, err, ErrUnsafePoint)
}

func TestStateKeyIsDeterministic(t *testing.T) {
	curve := NewEd25519Curve()
	a, _ := curve.ScalarRandom()
	b, _ := curve.ScalarRandom()

	assert.Equal(t, StateKey(a), StateKey(a))
	assert.NotEqual(t, StateKey(a), StateKey(b))
}

func TestNodeKeysAreSeparated(t *testing.T) {
	priv, err := NewEd25519Curve().ScalarRandom()
	require.NoError(t, err)

	keys := [][]byte{StateKey(priv), CertTimeKey(priv), RecordKey(priv)}
	for i := range keys {
		assert.Len(t, keys[i], EnvelopeKeySize)
		for j := i + 1; j < len(keys); j++ {
			assert.NotEqual(t, keys[i], keys[j], "keys %d and %d", i, j)
		}
	}

	// A state blob does not open under the record key.
	blob, err := Seal(StateKey(priv), []byte("state"), purposeSession)
	require.NoError(t, err)
	_, err = Open(RecordKey(priv), blob, purposeSession)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSessionStateSealing(t *testing.T) {
	key, _ := SecureRandom(EnvelopeKeySize)
	state := &SessionState{
		Stage:     StageShardsCollected,
		KeyID:     "k1",
		Peers:     [][]byte{{1}, {2}},
		Li:        []byte{3},
		Timestamp: 99,
		Y:         [][]byte{{4, 5}},
		GK:        [][]byte{{6}},
		Nonce:     []byte{7},
	}

	blob, err := state.seal(key, purposeSession)
	require.NoError(t, err)

	got, err := openSessionState(key, blob, purposeSession)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	_, err = openSessionState(key, blob, purposeCommit)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	got.Zeroize()
	assert.Equal(t, []byte{0, 0}, got.Y[0])
	assert.Equal(t, []byte{0}, got.Nonce)
}
