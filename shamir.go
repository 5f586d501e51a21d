package prism

import (
	"errors"
	"fmt"
)

// Share is one evaluation of a sharing polynomial: (participant id, value).
type Share struct {
	ID    Scalar
	Value Scalar
}

// NewShare creates a new share
func NewShare(id, value Scalar) *Share {
	return &Share{
		ID:    id,
		Value: value,
	}
}

// ShamirSecretSharing implements Shamir's Secret Sharing over a curve's scalar field
type ShamirSecretSharing struct {
	curve Curve
}

// NewShamirSecretSharing creates a new Shamir secret sharing instance
func NewShamirSecretSharing(curve Curve) *ShamirSecretSharing {
	return &ShamirSecretSharing{curve: curve}
}

// Share evaluates a random degree-(threshold-1) polynomial with constant term
// secret at every id. Shares are returned in the order of ids.
func (sss *ShamirSecretSharing) Share(secret Scalar, ids []Scalar, threshold int) ([]*Share, error) {
	if threshold < 1 {
		return nil, errors.New("threshold must be positive")
	}
	if threshold > len(ids) {
		return nil, fmt.Errorf("threshold %d exceeds participant count %d", threshold, len(ids))
	}
	if err := checkDistinctIDs(ids); err != nil {
		return nil, err
	}

	polynomial, err := NewRandomPolynomial(sss.curve, threshold-1, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create polynomial: %w", err)
	}
	defer polynomial.Zeroize()

	shares := make([]*Share, len(ids))
	for i, id := range ids {
		shares[i] = NewShare(id, polynomial.Evaluate(id))
	}
	return shares, nil
}

// EvalLi returns the Lagrange coefficient of id for interpolating the
// constant term from exactly the set ids: Π_{j≠i} x_j / (x_j - x_i).
func (sss *ShamirSecretSharing) EvalLi(id Scalar, ids []Scalar) (Scalar, error) {
	numerator := sss.curve.ScalarOne()
	denominator := sss.curve.ScalarOne()
	found := false

	for _, other := range ids {
		if other.Equal(id) {
			if found {
				return nil, errors.New("duplicate participant id")
			}
			found = true
			continue
		}
		numerator = numerator.Mul(other)
		denominator = denominator.Mul(other.Sub(id))
	}
	if !found {
		return nil, errors.New("participant id is not in the id set")
	}

	inv, err := denominator.Invert()
	if err != nil {
		return nil, fmt.Errorf("failed to invert denominator: %w", err)
	}
	return numerator.Mul(inv), nil
}

// LagrangeCoefficients returns EvalLi for every id, in order.
func (sss *ShamirSecretSharing) LagrangeCoefficients(ids []Scalar) ([]Scalar, error) {
	if err := checkDistinctIDs(ids); err != nil {
		return nil, err
	}

	lis := make([]Scalar, len(ids))
	for i, id := range ids {
		li, err := sss.EvalLi(id, ids)
		if err != nil {
			return nil, err
		}
		lis[i] = li
	}
	return lis, nil
}

// Reconstruct interpolates the constant term from the given shares.
func (sss *ShamirSecretSharing) Reconstruct(shares []*Share) (Scalar, error) {
	if len(shares) == 0 {
		return nil, errors.New("no shares supplied")
	}

	ids := make([]Scalar, len(shares))
	for i, share := range shares {
		ids[i] = share.ID
	}
	lis, err := sss.LagrangeCoefficients(ids)
	if err != nil {
		return nil, err
	}

	secret := sss.curve.ScalarZero()
	for i, share := range shares {
		secret = secret.Add(share.Value.Mul(lis[i]))
	}
	return secret, nil
}

// GenerateShares shares secret at the small indices 1..numShares.
func (sss *ShamirSecretSharing) GenerateShares(secret Scalar, threshold, numShares int) ([]*Share, error) {
	if numShares < threshold {
		return nil, errors.New("number of shares must be at least threshold")
	}
	if numShares > 255 {
		return nil, errors.New("number of shares cannot exceed 255")
	}

	ids := make([]Scalar, numShares)
	for i := range ids {
		ids[i] = smallIndex(sss.curve, i+1)
	}
	return sss.Share(secret, ids, threshold)
}

// ReconstructSecret reconstructs from the first threshold shares.
func (sss *ShamirSecretSharing) ReconstructSecret(shares []*Share, threshold int) (Scalar, error) {
	if len(shares) < threshold {
		return nil, fmt.Errorf("insufficient shares: need %d, got %d", threshold, len(shares))
	}
	return sss.Reconstruct(shares[:threshold])
}

// VerifyShares checks that two different threshold subsets agree on the secret.
func (sss *ShamirSecretSharing) VerifyShares(shares []*Share, threshold int) error {
	if len(shares) < threshold {
		return fmt.Errorf("insufficient shares for verification: need %d, got %d", threshold, len(shares))
	}
	if len(shares) == threshold {
		return nil
	}

	secret1, err := sss.ReconstructSecret(shares, threshold)
	if err != nil {
		return fmt.Errorf("failed to reconstruct with first subset: %w", err)
	}

	alt := make([]*Share, threshold)
	copy(alt[:threshold-1], shares[:threshold-1])
	alt[threshold-1] = shares[threshold]

	secret2, err := sss.Reconstruct(alt)
	if err != nil {
		return fmt.Errorf("failed to reconstruct with alternate subset: %w", err)
	}
	if !secret1.Equal(secret2) {
		return errors.New("shares are inconsistent")
	}
	return nil
}

func checkDistinctIDs(ids []Scalar) error {
	for i, id := range ids {
		if id.IsZero() {
			return errors.New("participant id cannot be zero")
		}
		for j := i + 1; j < len(ids); j++ {
			if id.Equal(ids[j]) {
				return errors.New("duplicate participant id")
			}
		}
	}
	return nil
}

func smallIndex(curve Curve, n int) Scalar {
	one := curve.ScalarOne()
	s := curve.ScalarZero()
	for i := 0; i < n; i++ {
		s = s.Add(one)
	}
	return s
}
