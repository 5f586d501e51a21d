package httpnode

import (
	"github.com/prismdkg/prism"
)

// Wire types. Points and scalars are their 32-byte encodings, which
// encoding/json renders as standard base64. A nil point is sent as null.

type genShardRequest struct {
	Peers       [][]byte `json:"peers"`
	NumSecrets  int      `json:"num_secrets"`
	Multipliers [][]byte `json:"multipliers,omitempty"`
}

type genShardResponse struct {
	Bundles     [][]byte `json:"bundles"`
	Commitments [][]byte `json:"commitments"`
	Multiplied  [][]byte `json:"multiplied,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

type sendShardRequest struct {
	Bundles     [][]byte `json:"bundles"`
	Multipliers [][]byte `json:"multipliers,omitempty"`
}

type sendShardResponse struct {
	TestCommitments [][]byte `json:"test_commitments"`
	NonceCommitment []byte   `json:"nonce_commitment"`
	Multiplied      [][]byte `json:"multiplied,omitempty"`
	State           []byte   `json:"state"`
}

type preCommitRequest struct {
	TestCommitments [][][]byte `json:"test_commitments"`
	NonceSum        []byte     `json:"nonce_sum"`
	State           []byte     `json:"state,omitempty"`
}

type preCommitResponse struct {
	PartialSignature []byte `json:"partial_signature"`
	State            []byte `json:"state"`
}

type commitRequest struct {
	S          []byte `json:"s"`
	State      []byte `json:"state"`
	GPrismAuth []byte `json:"g_prism_auth,omitempty"`
}

// commitResponse leaves out the node's shares; they never leave the node
// over HTTP.
type commitResponse struct {
	Commitments [][]byte `json:"commitments"`
	Timestamp   int64    `json:"timestamp"`
}

type authProof struct {
	Token    []byte `json:"token"`
	CertTime []byte `json:"cert_time"`
}

type commitPrismRequest struct {
	TestPoint  []byte     `json:"test_point"`
	State      []byte     `json:"state"`
	GPrismAuth []byte     `json:"g_prism_auth,omitempty"`
	Auth       *authProof `json:"auth,omitempty"`
}

type commitPrismResponse struct {
	Committed bool `json:"committed"`
}

type applyRequest struct {
	BlindedPoint []byte `json:"blinded_point"`
}

type applyResponse struct {
	Applied     []byte `json:"applied"`
	EncCertTime []byte `json:"enc_cert_time"`
}

type authenticateRequest struct {
	Auth     authProof `json:"auth"`
	AuthData []byte    `json:"auth_data"`
}

type authenticateResponse struct {
	EncryptedCVK []byte `json:"encrypted_cvk"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Kind    prism.ErrorKind `json:"kind"`
	Code    string          `json:"code,omitempty"`
	Details string          `json:"details,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id,omitempty"`
}

func encodePoint(p prism.Point) []byte {
	if p == nil {
		return nil
	}
	return p.Bytes()
}

func encodePoints(points []prism.Point) [][]byte {
	if points == nil {
		return nil
	}
	out := make([][]byte, len(points))
	for i, p := range points {
		out[i] = encodePoint(p)
	}
	return out
}

// decodePoint maps an empty encoding to nil, which is how optional
// multipliers travel. Anything else must be a canonical encoding; safety is
// checked by the node.
func decodePoint(curve prism.Curve, data []byte) (prism.Point, error) {
	if len(data) == 0 {
		return nil, nil
	}
	p, err := curve.PointFromBytes(data)
	if err != nil {
		return nil, prism.ErrUnsafePoint.WithCause(err)
	}
	return p, nil
}

func decodePoints(curve prism.Curve, data [][]byte) ([]prism.Point, error) {
	if data == nil {
		return nil, nil
	}
	out := make([]prism.Point, len(data))
	for i, d := range data {
		p, err := decodePoint(curve, d)
		if err != nil {
			return nil, prism.ErrUnsafePoint.WithCause(err).WithContext("index", i)
		}
		out[i] = p
	}
	return out, nil
}

func decodeScalar(curve prism.Curve, data []byte) (prism.Scalar, error) {
	if len(data) == 0 {
		return nil, nil
	}
	s, err := curve.ScalarFromBytes(data)
	if err != nil {
		return nil, prism.ErrInvalidRequest.WithCause(err)
	}
	return s, nil
}

func toAuthProof(p *authProof) *prism.AuthProof {
	if p == nil {
		return nil
	}
	return &prism.AuthProof{Token: p.Token, CertTime: p.CertTime}
}

func fromAuthProof(p *prism.AuthProof) *authProof {
	if p == nil {
		return nil
	}
	return &authProof{Token: p.Token, CertTime: p.CertTime}
}
