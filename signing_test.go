package prism

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signForTest(t *testing.T, curve Curve, priv Scalar, ts int64, keyID string) *AggregateSignature {
	t.Helper()
	r, err := curve.ScalarRandom()
	require.NoError(t, err)
	R := curve.BasePoint().Mul(r)
	h, err := Challenge(curve, R, curve.BasePoint().Mul(priv), ts, keyID)
	require.NoError(t, err)
	return &AggregateSignature{R: R, S: r.Add(h.Mul(priv))}
}

func TestAggregateSignatureSoundness(t *testing.T) {
	curve := NewEd25519Curve()
	priv, err := curve.ScalarRandom()
	require.NoError(t, err)
	pub := curve.BasePoint().Mul(priv)
	const ts = int64(1_700_000_000_123_456_789)
	const keyID = "user-key"

	sig := signForTest(t, curve, priv, ts, keyID)
	require.True(t, sig.Verify(curve, pub, ts, keyID))

	t.Run("altered S", func(t *testing.T) {
		bad := &AggregateSignature{R: sig.R, S: sig.S.Add(curve.ScalarOne())}
		assert.False(t, bad.Verify(curve, pub, ts, keyID))
	})
	t.Run("altered R", func(t *testing.T) {
		bad := &AggregateSignature{R: sig.R.Add(curve.BasePoint()), S: sig.S}
		assert.False(t, bad.Verify(curve, pub, ts, keyID))
	})
	t.Run("altered timestamp", func(t *testing.T) {
		assert.False(t, sig.Verify(curve, pub, ts+1, keyID))
	})
	t.Run("altered key id", func(t *testing.T) {
		assert.False(t, sig.Verify(curve, pub, ts, keyID+"x"))
	})
	t.Run("other public key", func(t *testing.T) {
		assert.False(t, sig.Verify(curve, pub.Add(curve.BasePoint()), ts, keyID))
	})
	t.Run("byte flips of S", func(t *testing.T) {
		enc := sig.S.Bytes()
		for i := 0; i < len(enc); i++ {
			flipped := append([]byte(nil), enc...)
			flipped[i] ^= 0x01
			s, err := curve.ScalarFromBytes(flipped)
			if err != nil {
				continue
			}
			bad := &AggregateSignature{R: sig.R, S: s}
			assert.False(t, bad.Verify(curve, pub, ts, keyID), "byte %d", i)
		}
	})
	t.Run("byte flips of R", func(t *testing.T) {
		enc := sig.R.Bytes()
		for i := 0; i < len(enc); i++ {
			flipped := append([]byte(nil), enc...)
			flipped[i] ^= 0x01
			r, err := curve.PointFromBytes(flipped)
			if err != nil {
				continue
			}
			bad := &AggregateSignature{R: r, S: sig.S}
			assert.False(t, bad.Verify(curve, pub, ts, keyID), "byte %d", i)
		}
	})
	t.Run("nil parts", func(t *testing.T) {
		var nilSig *AggregateSignature
		assert.False(t, nilSig.Verify(curve, pub, ts, keyID))
		assert.False(t, (&AggregateSignature{R: sig.R}).Verify(curve, pub, ts, keyID))
	})
}

func TestPartialSignaturesCombine(t *testing.T) {
	curve := NewEd25519Curve()
	sss := NewShamirSecretSharing(curve)
	g := curve.BasePoint()

	// Three nodes with static keys, Shamir shares Y_i of a group secret and
	// nonces r_i.
	group, err := curve.ScalarRandom()
	require.NoError(t, err)
	ids := randomIDs(t, curve, 3)
	shares, err := sss.Share(group, ids, 2)
	require.NoError(t, err)
	lis, err := sss.LagrangeCoefficients(ids)
	require.NoError(t, err)

	privs := make([]Scalar, 3)
	pubs := make([]Point, 3)
	nonces := make([]Scalar, 3)
	nonceCommits := make([]Point, 3)
	for i := range privs {
		privs[i], _ = curve.ScalarRandom()
		pubs[i] = g.Mul(privs[i])
		nonces[i], _ = curve.ScalarRandom()
		nonceCommits[i] = g.Mul(nonces[i])
	}

	gk := g.Mul(group)
	R := GroupNonce(curve, pubs, SumPoints(curve, nonceCommits))
	h, err := Challenge(curve, R, gk, 42, "k")
	require.NoError(t, err)

	partials := make([]Scalar, 3)
	for i := range partials {
		partials[i] = partialSignature(privs[i], nonces[i], h, shares[i].Value, lis[i])
	}
	sig := &AggregateSignature{R: R, S: CombinePartials(curve, partials)}
	assert.True(t, sig.Verify(curve, gk, 42, "k"))
}
