package prism

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"sort"
)

// HashToScalar hashes data with SHA-512 and reduces the digest mod N.
func HashToScalar(curve Curve, data ...[]byte) (Scalar, error) {
	hasher := sha512.New()
	for _, d := range data {
		hasher.Write(d)
	}
	return curve.ScalarFromUniformBytes(hasher.Sum(nil))
}

// SHA256Scalar interprets SHA-256(data) as a little-endian integer mod N.
func SHA256Scalar(curve Curve, data []byte) (Scalar, error) {
	digest := sha256.Sum256(data)
	return curve.ScalarFromUniformBytes(digest[:])
}

// Median returns the median timestamp. For an even count it is the floor of
// the mean of the two middle values.
func Median(values []int64) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("median of empty set")
	}

	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], nil
	}
	a, b := sorted[mid-1], sorted[mid]
	return a + (b-a)/2, nil
}

// withinWindow reports whether |a-b| <= window.
func withinWindow(a, b, window int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= window
}

// SecureCompare performs constant-time comparison of byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ZeroizeBytes securely clears a byte slice
func ZeroizeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// ZeroizeByteSlices clears every slice in data.
func ZeroizeByteSlices(data [][]byte) {
	for _, d := range data {
		ZeroizeBytes(d)
	}
}

// ZeroizeScalarSlice securely clears a slice of scalars
func ZeroizeScalarSlice(scalars []Scalar) {
	for _, scalar := range scalars {
		if scalar != nil {
			scalar.Zeroize()
		}
	}
}

func scalarsToBytes(scalars []Scalar) [][]byte {
	out := make([][]byte, len(scalars))
	for i, s := range scalars {
		out[i] = s.Bytes()
	}
	return out
}

func scalarsFromBytes(curve Curve, data [][]byte) ([]Scalar, error) {
	out := make([]Scalar, len(data))
	for i, d := range data {
		s, err := curve.ScalarFromBytes(d)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// pointsToBytes encodes points; nil entries stay nil.
func pointsToBytes(points []Point) [][]byte {
	out := make([][]byte, len(points))
	for i, p := range points {
		if p != nil {
			out[i] = p.Bytes()
		}
	}
	return out
}

// pointsFromBytes decodes points; nil or empty entries decode to nil.
func pointsFromBytes(curve Curve, data [][]byte) ([]Point, error) {
	out := make([]Point, len(data))
	for i, d := range data {
		if len(d) == 0 {
			continue
		}
		p, err := curve.PointFromBytes(d)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}
