package prism

import (
	"crypto/rand"
	"errors"
)

// Curve defines the interface for the prime-order group used by the protocol
type Curve interface {
	// Metadata
	Name() string
	ScalarSize() int
	PointSize() int

	// Scalar operations
	ScalarFromBytes([]byte) (Scalar, error)
	ScalarFromUniformBytes([]byte) (Scalar, error)
	ScalarRandom() (Scalar, error)
	ScalarZero() Scalar
	ScalarOne() Scalar

	// Point operations
	PointFromBytes([]byte) (Point, error)
	BasePoint() Point
	PointIdentity() Point
}

// Scalar represents an element of the curve's scalar field
type Scalar interface {
	Bytes() []byte
	String() string

	Add(Scalar) Scalar
	Sub(Scalar) Scalar
	Mul(Scalar) Scalar
	Negate() Scalar
	Invert() (Scalar, error)

	Equal(Scalar) bool
	IsZero() bool

	Zeroize()
}

// Point represents a group element
type Point interface {
	// Bytes returns the compressed encoding
	Bytes() []byte
	String() string

	Add(Point) Point
	Sub(Point) Point
	Double() Point
	Mul(Scalar) Point
	Negate() Point

	Equal(Point) bool
	IsIdentity() bool

	// IsSafe reports whether the point is usable as input to a scalar
	// multiplication: not the identity and inside the prime-order subgroup.
	IsSafe() bool
}

// Encoding errors
var (
	ErrInvalidScalarLength = errors.New("invalid scalar length")
	ErrInvalidPointLength  = errors.New("invalid point length")
	ErrInvalidScalar       = errors.New("invalid scalar value")
	ErrInvalidPoint        = errors.New("invalid point")
	ErrNonCanonicalPoint   = errors.New("non-canonical point encoding")
	ErrScalarZero          = errors.New("scalar is zero")
)

// SecureRandom generates cryptographically secure random bytes
func SecureRandom(size int) ([]byte, error) {
	bytes := make([]byte, size)
	_, err := rand.Read(bytes)
	return bytes, err
}

// SumPoints adds all points, starting from the identity.
func SumPoints(curve Curve, points []Point) Point {
	sum := curve.PointIdentity()
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum
}

// DecodeSafePoint decompresses an untrusted encoding and rejects points that
// fail IsSafe.
func DecodeSafePoint(curve Curve, data []byte) (Point, error) {
	p, err := curve.PointFromBytes(data)
	if err != nil {
		return nil, ErrUnsafePoint.WithCause(err)
	}
	if !p.IsSafe() {
		return nil, ErrUnsafePoint
	}
	return p, nil
}
