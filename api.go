package prism

import (
	"context"
)

// NodeAPI is the protocol surface of a single node. *Node implements it
// in-process and adapters/httpnode.Client implements it over HTTP.
type NodeAPI interface {
	GenShard(ctx context.Context, req *GenShardRequest) (*GenShardResponse, error)
	SendShard(ctx context.Context, req *SendShardRequest) (*SendShardResponse, error)
	PreCommit(ctx context.Context, req *PreCommitRequest) (*PreCommitResponse, error)
	Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error)
	CommitPrism(ctx context.Context, req *CommitPrismRequest) (*CommitPrismResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error)
}

// GenShardRequest starts key generation for KeyID across Peers.
type GenShardRequest struct {
	KeyID      string
	Peers      []Point
	NumSecrets int
	// Multipliers[n], when non-nil, is multiplied by secret n.
	Multipliers []Point
}

// GenShardResponse carries one sealed bundle per peer, in peer order.
type GenShardResponse struct {
	Bundles     [][]byte
	Commitments []Point
	Multiplied  []Point
	Timestamp   int64
}

// SendShardRequest delivers the bundles addressed to this node, ordered
// like the GenShard peer list (sender order).
type SendShardRequest struct {
	KeyID       string
	Bundles     [][]byte
	Multipliers []Point
}

// SendShardResponse carries this node's test commitments G·Y_n.
type SendShardResponse struct {
	TestCommitments []Point
	NonceCommitment Point
	Multiplied      []Point
	State           []byte
}

// PreCommitRequest carries every node's test commitments, indexed
// [peer][secret], and the sum of nonce commitments.
type PreCommitRequest struct {
	KeyID           string
	TestCommitments [][]Point
	NonceSum        Point
	State           []byte
}

// PreCommitResponse carries S_i and the node-private commit state.
type PreCommitResponse struct {
	PartialSignature Scalar
	State            []byte
}

// CommitRequest finalizes a key. GPrismAuth is optional.
type CommitRequest struct {
	KeyID      string
	S          Scalar
	State      []byte
	GPrismAuth Point
}

// CommitResponse returns the finalized shares and group commitments.
type CommitResponse struct {
	Shares      []Scalar
	Commitments []Point
	Timestamp   int64
}

// AuthProof proves knowledge of the current PrismAuth key: Token is signed
// with PrismAuth over uid || CertTime, CertTime is a node-issued token.
type AuthProof struct {
	Token    []byte
	CertTime []byte
}

// CommitPrismRequest replaces the stored PRISM share. Auth is required once
// the record has a PrismAuth.
type CommitPrismRequest struct {
	KeyID      string
	TestPoint  Point
	State      []byte
	GPrismAuth Point
	Auth       *AuthProof
}

// CommitPrismResponse returns the new PRISM share.
type CommitPrismResponse struct {
	Share Scalar
}

// ApplyRequest asks a node to apply its PRISM share to a blinded point.
type ApplyRequest struct {
	UID          string
	BlindedPoint Point
}

// ApplyResponse carries BlindedPoint·prism_i and a certificate time token
// sealed under PrismAuth_i.
type ApplyResponse struct {
	Applied     Point
	EncCertTime []byte
}

// AuthenticateRequest proves knowledge of PrismAuth_i.
type AuthenticateRequest struct {
	UID      string
	Auth     AuthProof
	AuthData []byte
}

// AuthenticateResponse carries CVK_i sealed under PrismAuth_i.
type AuthenticateResponse struct {
	EncryptedCVK []byte
}
