package prism

import (
	"crypto/sha512"
	"errors"
)

const hashToPointDomain = "prism/v1 hash to point"

// HashToPoint maps data to a point of the prime-order subgroup by
// try-and-increment: candidate encodings SHA-512(domain || counter || data)[:32]
// are decompressed until one decodes, then the cofactor is cleared.
func HashToPoint(data []byte) (Point, error) {
	curve := NewEd25519Curve()
	for counter := 0; counter < 256; counter++ {
		h := sha512.New()
		h.Write([]byte(hashToPointDomain))
		h.Write([]byte{byte(counter)})
		h.Write(data)
		digest := h.Sum(nil)

		candidate, err := curve.PointFromBytes(digest[:32])
		if err != nil {
			continue
		}
		p := candidate.(*Ed25519Point).MulByCofactor()
		if p.IsSafe() {
			return p, nil
		}
	}
	return nil, errors.New("hash to point: no candidate decoded")
}
