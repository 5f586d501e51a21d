package prism

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	certTimeSuffix       = "auth"
	authenticatedMessage = "Authenticated"
)

// Apply multiplies the client's blinded point by this node's PRISM share and
// issues a certificate time token sealed under the node's PrismAuth key.
func (n *Node) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.UID)
	defer unlock()

	resp, err := n.apply(ctx, req)
	n.finish(RoundApply, req.UID, 0, start, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *Node) apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	if req.UID == "" {
		return nil, ErrInvalidRequest.WithDetails("uid is required")
	}
	if req.BlindedPoint == nil || !req.BlindedPoint.IsSafe() {
		return nil, ErrUnsafePoint.WithDetails("blinded point")
	}

	record, err := n.store.Get(ctx, req.UID)
	if err != nil {
		return nil, err
	}
	if len(record.Prism) == 0 || len(record.PrismAuth) == 0 {
		return nil, ErrInvalidState.WithDetails("no PRISM share committed for uid")
	}

	share, err := n.curve.ScalarFromBytes(record.Prism)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer share.Zeroize()

	certTime := GenerateTranToken(n.now(), n.certKey, certPayload(req.UID))
	enc, err := Seal(record.PrismAuth, certTime.Bytes(), purposeAuth)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	return &ApplyResponse{
		Applied:     req.BlindedPoint.Mul(share),
		EncCertTime: enc,
	}, nil
}

// Authenticate releases this node's CVK share, sealed under PrismAuth_i, to
// a client that proves knowledge of PrismAuth_i.
func (n *Node) Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.UID)
	defer unlock()

	resp, err := n.authenticate(ctx, req)
	n.finish(RoundAuthenticate, req.UID, 0, start, err)
	n.audit.OnAuthentication(NewAuditEventBuilder(AuditEventAuthentication).
		WithRound(RoundAuthenticate, req.UID).
		WithError(err).
		Build())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *Node) authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error) {
	if req.UID == "" {
		return nil, ErrInvalidRequest.WithDetails("uid is required")
	}
	record, err := n.store.Get(ctx, req.UID)
	if err != nil {
		return nil, err
	}
	if len(record.PrismAuth) == 0 {
		return nil, ErrInvalidState.WithDetails("no PRISM share committed for uid")
	}

	if err := n.verifyAuthProof(req.UID, record.PrismAuth, &req.Auth); err != nil {
		return nil, err
	}

	msg, err := Open(record.PrismAuth, req.AuthData, purposeAuth)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(msg, []byte(authenticatedMessage)) {
		return nil, ErrInvalidToken.WithDetails("unexpected authentication payload")
	}

	enc, err := Seal(record.PrismAuth, record.CVK, purposeAuth)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	return &AuthenticateResponse{EncryptedCVK: enc}, nil
}

// verifyAuthProof checks that proof.CertTime was issued by this node for uid
// and that proof.Token was signed with prismAuth over uid || CertTime. Both
// must be on time.
func (n *Node) verifyAuthProof(uid string, prismAuth []byte, proof *AuthProof) error {
	now := n.now()

	certTime, err := ParseTranToken(proof.CertTime)
	if err != nil {
		return err
	}
	if !certTime.Check(n.certKey, certPayload(uid)) {
		return ErrInvalidToken.WithDetails("certificate time was not issued by this node")
	}
	if !certTime.OnTime(now, n.cfg.TokenWindow) {
		return ErrExpired.WithDetails("certificate time is outside the token window")
	}

	token, err := ParseTranToken(proof.Token)
	if err != nil {
		return err
	}
	if !token.Check(prismAuth, authTokenPayload(uid, proof.CertTime)) {
		return ErrInvalidToken.WithDetails("token signature does not verify")
	}
	if !token.OnTime(now, n.cfg.TokenWindow) {
		return ErrExpired.WithDetails("token is outside the token window")
	}
	return nil
}

// nodePrismAuth derives the node side of PrismAuth_i = SHA-256(gPrismAuth·priv).
func (n *Node) nodePrismAuth(gPrismAuth Point) ([]byte, error) {
	if !gPrismAuth.IsSafe() {
		return nil, ErrUnsafePoint.WithDetails("gPrismAuth")
	}
	return prismAuthKey(gPrismAuth.Mul(n.priv)), nil
}

func prismAuthKey(p Point) []byte {
	sum := sha256.Sum256(p.Bytes())
	return sum[:]
}

func certPayload(uid string) []byte {
	return []byte(uid + certTimeSuffix)
}

func authTokenPayload(uid string, certTime []byte) []byte {
	out := make([]byte, 0, len(uid)+len(certTime))
	out = append(out, uid...)
	return append(out, certTime...)
}

// UserID is the key id of a username: hex(SHA-256(username)).
func UserID(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])
}

// BlindPassword maps password to P = HashToPoint(password) and blinds it
// with a fresh scalar r. It returns P, r and P·r.
func BlindPassword(password []byte) (Point, Scalar, Point, error) {
	p, err := HashToPoint(password)
	if err != nil {
		return nil, nil, nil, err
	}
	r, err := NewEd25519Curve().ScalarRandom()
	if err != nil {
		return nil, nil, nil, err
	}
	return p, r, p.Mul(r), nil
}

// CombineApplied interpolates the applied points of the responding nodes:
// Σ L_i·applied_i, with L_i computed over ids.
func CombineApplied(curve Curve, ids []Scalar, applied []Point) (Point, error) {
	if len(ids) != len(applied) {
		return nil, ErrInvalidRequest.WithDetails("%d ids for %d points", len(ids), len(applied))
	}
	lis, err := NewShamirSecretSharing(curve).LagrangeCoefficients(ids)
	if err != nil {
		return nil, ErrInvalidPeerSet.WithCause(err)
	}
	sum := curve.PointIdentity()
	for i, p := range applied {
		sum = sum.Add(p.Mul(lis[i]))
	}
	return sum, nil
}

// Unblind removes the blinding factor: point·r⁻¹.
func Unblind(point Point, r Scalar) (Point, error) {
	inv, err := r.Invert()
	if err != nil {
		return nil, err
	}
	return point.Mul(inv), nil
}

// PrismKeyScalar derives h = SHA-256(keyPoint) mod N from the unblinded
// PRISM key point.
func PrismKeyScalar(curve Curve, keyPoint Point) (Scalar, error) {
	return SHA256Scalar(curve, keyPoint.Bytes())
}

// GPrismAuth returns G·h, the value nodes store PrismAuth against.
func GPrismAuth(curve Curve, h Scalar) Point {
	return curve.BasePoint().Mul(h)
}

// ClientPrismAuth derives PrismAuth_i = SHA-256(nodePub·h), which equals the
// node's SHA-256(gPrismAuth·priv).
func ClientPrismAuth(nodePub Point, h Scalar) []byte {
	return prismAuthKey(nodePub.Mul(h))
}

// OpenCertTime decrypts the certificate time token returned by Apply.
func OpenCertTime(prismAuth, encCertTime []byte) ([]byte, error) {
	raw, err := Open(prismAuth, encCertTime, purposeAuth)
	if err != nil {
		return nil, err
	}
	if _, err := ParseTranToken(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// NewAuthProof signs uid || certTime with prismAuth.
func NewAuthProof(now time.Time, prismAuth []byte, uid string, certTime []byte) *AuthProof {
	token := GenerateTranToken(now, prismAuth, authTokenPayload(uid, certTime))
	return &AuthProof{
		Token:    token.Bytes(),
		CertTime: append([]byte(nil), certTime...),
	}
}

// SealAuthData produces the AuthData blob Authenticate expects.
func SealAuthData(prismAuth []byte) ([]byte, error) {
	return Seal(prismAuth, []byte(authenticatedMessage), purposeAuth)
}

// OpenCVKShare decrypts one node's CVK share returned by Authenticate.
func OpenCVKShare(curve Curve, prismAuth, enc []byte) (Scalar, error) {
	raw, err := Open(prismAuth, enc, purposeAuth)
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(raw)
	s, err := curve.ScalarFromBytes(raw)
	if err != nil {
		return nil, ErrDecryptionFailed.WithCause(err)
	}
	return s, nil
}
