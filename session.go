package prism

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Stage is the position of a key id in the node state machine.
type Stage uint8

const (
	StageIdle Stage = iota
	StageGenShardDone
	StageShardsCollected
	StagePreCommitted
	StageCommitted
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageGenShardDone:
		return "genshard_done"
	case StageShardsCollected:
		return "shards_collected"
	case StagePreCommitted:
		return "precommitted"
	case StageCommitted:
		return "committed"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// SessionState is the whole per-keyID state carried between rounds. Which
// fields are populated depends on Stage; each round replaces the state
// wholesale and it is only ever stored sealed.
type SessionState struct {
	Stage Stage  `cbor:"1,keyasint"`
	KeyID string `cbor:"2,keyasint"`

	// Ordered peer public keys and their pairwise keys.
	Peers        [][]byte `cbor:"3,keyasint"`
	PairwiseKeys [][]byte `cbor:"4,keyasint,omitempty"`
	Li           []byte   `cbor:"5,keyasint"`

	// GenShardDone: the node's own random secrets k_n.
	Secrets [][]byte `cbor:"6,keyasint,omitempty"`

	// ShardsCollected and later.
	Timestamp int64    `cbor:"7,keyasint,omitempty"`
	Y         [][]byte `cbor:"8,keyasint,omitempty"`
	GK        [][]byte `cbor:"9,keyasint,omitempty"`
	Nonce     []byte   `cbor:"10,keyasint,omitempty"`

	// PreCommitted: the nonce commitment sum R2.
	NonceSum []byte `cbor:"11,keyasint,omitempty"`
}

// ShareBundle is the payload one node sends another in GenShard.
type ShareBundle struct {
	KeyID       string   `cbor:"1,keyasint"`
	Timestamp   int64    `cbor:"2,keyasint"`
	Shares      [][]byte `cbor:"3,keyasint"`
	Commitments [][]byte `cbor:"4,keyasint"`
}

// Zeroize clears secret material
func (s *SessionState) Zeroize() {
	ZeroizeByteSlices(s.PairwiseKeys)
	ZeroizeByteSlices(s.Secrets)
	ZeroizeByteSlices(s.Y)
	ZeroizeBytes(s.Nonce)
}

func (s *SessionState) seal(key, aad []byte) ([]byte, error) {
	raw, err := cbor.Marshal(s)
	if err != nil {
		return nil, ErrInternal.WithCause(fmt.Errorf("failed to encode session state: %w", err))
	}
	defer ZeroizeBytes(raw)
	return Seal(key, raw, aad)
}

func openSessionState(key, envelope, aad []byte) (*SessionState, error) {
	raw, err := Open(key, envelope, aad)
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(raw)

	var s SessionState
	if err := cbor.Unmarshal(raw, &s); err != nil {
		return nil, ErrDecryptionFailed.WithCause(fmt.Errorf("failed to decode session state: %w", err))
	}
	return &s, nil
}

func sealBundle(key []byte, b *ShareBundle) ([]byte, error) {
	raw, err := cbor.Marshal(b)
	if err != nil {
		return nil, ErrInternal.WithCause(fmt.Errorf("failed to encode share bundle: %w", err))
	}
	defer ZeroizeBytes(raw)
	return Seal(key, raw, purposeBundle)
}

func openBundle(key, envelope []byte) (*ShareBundle, error) {
	raw, err := Open(key, envelope, purposeBundle)
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(raw)

	var b ShareBundle
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return nil, ErrDecryptionFailed.WithCause(fmt.Errorf("failed to decode share bundle: %w", err))
	}
	return &b, nil
}
