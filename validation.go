package prism

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// SecurityLevel grades a threshold/peer-count combination
type SecurityLevel string

const (
	SecurityLevelLow    SecurityLevel = "low"
	SecurityLevelMedium SecurityLevel = "medium"
	SecurityLevelHigh   SecurityLevel = "high"
)

// DefaultByzantineRatio is the 2/3 threshold ratio for Byzantine fault tolerance.
const DefaultByzantineRatio = 2.0 / 3.0

// ValidationResult contains the result of parameter validation
type ValidationResult struct {
	Valid                   bool          `json:"valid"`
	SecurityLevel           SecurityLevel `json:"security_level"`
	ByzantineFaultTolerance bool          `json:"byzantine_fault_tolerance"`
	Warnings                []string      `json:"warnings,omitempty"`
	Errors                  []string      `json:"errors,omitempty"`
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:         true,
		SecurityLevel: SecurityLevelMedium,
		Warnings:      []string{},
		Errors:        []string{},
	}
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.SecurityLevel = SecurityLevelLow
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Err converts a failed result into an InvalidPeerSet error.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return ErrInvalidPeerSet.WithDetails("%s", strings.Join(r.Errors, "; "))
}

// ThresholdValidator checks threshold parameters for a node set
type ThresholdValidator struct {
	MinPeers            int     `json:"min_peers"`
	MinThreshold        int     `json:"min_threshold"`
	MaxPeers            int     `json:"max_peers"`
	ByzantineRatio      float64 `json:"byzantine_ratio"`
	RecommendedMinRatio float64 `json:"recommended_min_ratio"`
}

// NewDefaultThresholdValidator returns the validator used by nodes and clients.
func NewDefaultThresholdValidator() *ThresholdValidator {
	return &ThresholdValidator{
		MinPeers:            2,
		MinThreshold:        1,
		MaxPeers:            255,
		ByzantineRatio:      DefaultByzantineRatio,
		RecommendedMinRatio: 0.51,
	}
}

// ValidateThresholdParameters validates threshold against peerCount.
func (tv *ThresholdValidator) ValidateThresholdParameters(peerCount, threshold int) *ValidationResult {
	result := newValidationResult()

	if threshold < tv.MinThreshold {
		result.fail("threshold must be at least %d, got %d", tv.MinThreshold, threshold)
	}
	if peerCount < tv.MinPeers {
		result.fail("need at least %d peers, got %d", tv.MinPeers, peerCount)
	}
	if peerCount > tv.MaxPeers {
		result.fail("at most %d peers supported, got %d", tv.MaxPeers, peerCount)
	}
	if threshold > peerCount {
		result.fail("threshold %d exceeds peer count %d", threshold, peerCount)
	}
	if !result.Valid {
		return result
	}

	if threshold >= int(math.Ceil(float64(peerCount)*tv.ByzantineRatio)) {
		result.ByzantineFaultTolerance = true
		result.SecurityLevel = SecurityLevelHigh
	}
	if float64(threshold)/float64(peerCount) < tv.RecommendedMinRatio {
		result.SecurityLevel = SecurityLevelLow
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"threshold %d of %d is below a majority; consider at least %d",
			threshold, peerCount, int(math.Ceil(float64(peerCount)*tv.RecommendedMinRatio))))
	}
	if threshold == 1 {
		result.SecurityLevel = SecurityLevelLow
		result.Warnings = append(result.Warnings, "threshold of 1 lets any single node reconstruct")
	}
	return result
}

// ValidatePeerSet checks an ordered peer list for use with threshold:
// structural validity (distinct, safe keys) plus the threshold parameters.
func ValidatePeerSet(peers Peers, threshold int) *ValidationResult {
	result := NewDefaultThresholdValidator().ValidateThresholdParameters(len(peers), threshold)
	if err := peers.Validate(); err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Details != "" {
			result.fail("%s", pe.Details)
		} else {
			result.fail("%v", err)
		}
	}
	return result
}
