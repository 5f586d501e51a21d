package prism

import (
	"crypto/sha512"
	"strconv"
)

// AggregateSignature is an EdDSA-style signature (R, S) over a key id and
// timestamp, valid iff G·S == R + PublicKey·H.
type AggregateSignature struct {
	R Point
	S Scalar
}

// Challenge computes H for a signature binding R, the public key, the round
// timestamp and the key id:
//
//	M = SHA-512(pub || ascii(timestamp) || ascii(keyID))
//	H = SHA-512(R || pub || M) mod N
//
// Points are 32-byte compressed; timestamp is its base-10 representation.
func Challenge(curve Curve, r, pub Point, timestamp int64, keyID string) (Scalar, error) {
	m := sha512.New()
	m.Write(pub.Bytes())
	m.Write([]byte(strconv.FormatInt(timestamp, 10)))
	m.Write([]byte(keyID))

	h := sha512.New()
	h.Write(r.Bytes())
	h.Write(pub.Bytes())
	h.Write(m.Sum(nil))

	return curve.ScalarFromUniformBytes(h.Sum(nil))
}

// Verify checks G·S == R + pub·H.
func Verify(curve Curve, s Scalar, r, pub Point, h Scalar) bool {
	left := curve.BasePoint().Mul(s)
	right := r.Add(pub.Mul(h))
	return left.Equal(right)
}

// Verify recomputes the challenge for pub, timestamp and keyID and checks the signature.
func (sig *AggregateSignature) Verify(curve Curve, pub Point, timestamp int64, keyID string) bool {
	if sig == nil || sig.R == nil || sig.S == nil || pub == nil {
		return false
	}
	h, err := Challenge(curve, sig.R, pub, timestamp, keyID)
	if err != nil {
		return false
	}
	return Verify(curve, sig.S, sig.R, pub, h)
}

// CombinePartials sums the partial signatures S_i. Each S_i already carries
// its node's Lagrange coefficient.
func CombinePartials(curve Curve, partials []Scalar) Scalar {
	s := curve.ScalarZero()
	for _, p := range partials {
		s = s.Add(p)
	}
	return s
}

// GroupNonce is R = Σ peer static public keys + Σ nonce commitments.
func GroupNonce(curve Curve, peerKeys []Point, nonceSum Point) Point {
	return SumPoints(curve, peerKeys).Add(nonceSum)
}

// partialSignature computes S_i = priv + r + H·Y·Li.
func partialSignature(priv, r, h, y, li Scalar) Scalar {
	return priv.Add(r).Add(h.Mul(y).Mul(li))
}
