package prism

import (
	"encoding/base64"
)

// ParticipantID derives a node's public Shamir x-coordinate:
// SHA-256 of the base64 (standard, padded) compressed public key, read
// little-endian and reduced mod N.
func ParticipantID(curve Curve, publicKey Point) (Scalar, error) {
	encoded := base64.StdEncoding.EncodeToString(publicKey.Bytes())
	return SHA256Scalar(curve, []byte(encoded))
}

// Peer is one entry of an ordered node list.
type Peer struct {
	ID        Scalar
	PublicKey Point
	URL       string
}

// NewPeer derives the participant id for publicKey.
func NewPeer(curve Curve, publicKey Point, url string) (*Peer, error) {
	if publicKey == nil || !publicKey.IsSafe() {
		return nil, ErrUnsafePoint.WithDetails("peer public key")
	}
	id, err := ParticipantID(curve, publicKey)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	return &Peer{ID: id, PublicKey: publicKey, URL: url}, nil
}

// Peers is an ordered peer list. Every per-peer array in the protocol is
// indexed in this order.
type Peers []*Peer

// NewPeers builds the ordered list for the given public keys.
func NewPeers(curve Curve, publicKeys []Point) (Peers, error) {
	peers := make(Peers, len(publicKeys))
	for i, pk := range publicKeys {
		p, err := NewPeer(curve, pk, "")
		if err != nil {
			return nil, annotate(err, "peer", i)
		}
		peers[i] = p
	}
	return peers, nil
}

// IDs returns the participant ids in order
func (ps Peers) IDs() []Scalar {
	ids := make([]Scalar, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

// PublicKeys returns the public keys in order
func (ps Peers) PublicKeys() []Point {
	keys := make([]Point, len(ps))
	for i, p := range ps {
		keys[i] = p.PublicKey
	}
	return keys
}

// IndexOf returns the position of publicKey, or -1.
func (ps Peers) IndexOf(publicKey Point) int {
	for i, p := range ps {
		if p.PublicKey.Equal(publicKey) {
			return i
		}
	}
	return -1
}

// Validate checks the list has at least two distinct peers.
func (ps Peers) Validate() error {
	if len(ps) < 2 {
		return ErrInvalidPeerSet.WithDetails("need at least 2 peers, got %d", len(ps))
	}
	for i := range ps {
		for j := i + 1; j < len(ps); j++ {
			if ps[i].ID.Equal(ps[j].ID) {
				return ErrInvalidPeerSet.WithDetails("duplicate peer at positions %d and %d", i, j)
			}
		}
	}
	return nil
}
