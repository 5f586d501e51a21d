package prism

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateThresholdParameters(t *testing.T) {
	tv := NewDefaultThresholdValidator()

	tests := []struct {
		name     string
		peers    int
		thresh   int
		valid    bool
		level    SecurityLevel
		bft      bool
		warnings int
	}{
		{"two of three", 3, 2, true, SecurityLevelHigh, true, 0},
		{"three of five", 5, 3, true, SecurityLevelMedium, false, 0},
		{"two of five", 5, 2, true, SecurityLevelLow, false, 1},
		{"one of two", 2, 1, true, SecurityLevelLow, false, 2},
		{"all of four", 4, 4, true, SecurityLevelHigh, true, 0},
		{"zero threshold", 3, 0, false, SecurityLevelLow, false, 0},
		{"threshold above peers", 3, 4, false, SecurityLevelLow, false, 0},
		{"single peer", 1, 1, false, SecurityLevelLow, false, 0},
		{"too many peers", 256, 200, false, SecurityLevelLow, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tv.ValidateThresholdParameters(tt.peers, tt.thresh)
			assert.Equal(t, tt.valid, r.Valid)
			assert.Equal(t, tt.level, r.SecurityLevel)
			assert.Equal(t, tt.bft, r.ByzantineFaultTolerance)
			if tt.valid {
				assert.Len(t, r.Warnings, tt.warnings)
				assert.NoError(t, r.Err())
			} else {
				assert.NotEmpty(t, r.Errors)
				assert.ErrorIs(t, r.Err(), ErrInvalidPeerSet)
			}
		})
	}
}

func TestValidatePeerSet(t *testing.T) {
	curve := NewEd25519Curve()
	keys := make([]Point, 3)
	for i := range keys {
		s, err := curve.ScalarRandom()
		require.NoError(t, err)
		keys[i] = curve.BasePoint().Mul(s)
	}

	peers, err := NewPeers(curve, keys)
	require.NoError(t, err)
	assert.NoError(t, ValidatePeerSet(peers, 2).Err())

	dup, err := NewPeers(curve, []Point{keys[0], keys[1], keys[0]})
	require.NoError(t, err)
	r := ValidatePeerSet(dup, 2)
	assert.False(t, r.Valid)
	assert.Contains(t, r.Errors[0], "duplicate peer at positions 0 and 2")

	_, err = NewPeers(curve, []Point{keys[0], curve.PointIdentity()})
	require.ErrorIs(t, err, ErrUnsafePoint)
	assert.Equal(t, 1, GetErrorContext(err)["peer"])
}
