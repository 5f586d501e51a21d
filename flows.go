package prism

import (
	"context"
)

// SignUpResult carries the public keys created for a user.
type SignUpResult struct {
	UID string
	// CVKPublic is G·CVK.
	CVKPublic Point
	// PrismPublic is G·prism.
	PrismPublic Point
	Timestamp   int64
}

// SignInResult carries the reconstructed CVK.
type SignInResult struct {
	UID       string
	CVK       Scalar
	CVKPublic Point
}

// prismSession is the client side of a successful Apply round.
type prismSession struct {
	h          Scalar
	prismAuths [][]byte
	certTimes  [][]byte
}

func (s *prismSession) zeroize() {
	if s == nil {
		return
	}
	s.h.Zeroize()
	ZeroizeByteSlices(s.prismAuths)
}

// SignUp generates a CVK and a PRISM key for uid in one key generation
// round and registers PrismAuth derived from password on every node.
func (c *Client) SignUp(ctx context.Context, uid string, password []byte) (*SignUpResult, error) {
	_, r, blinded, err := BlindPassword(password)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer r.Zeroize()

	kg, err := c.runKeyGen(ctx, uid, 2, []Point{nil, blinded})
	if err != nil {
		return nil, err
	}

	gPrismAuth, err := c.gPrismAuth(kg.multiplied[1], r)
	if err != nil {
		return nil, err
	}
	if _, err := c.commit(ctx, kg, gPrismAuth); err != nil {
		return nil, err
	}

	c.logger.Info().Str("uid", uid).Int("nodes", len(c.peers)).Msg("sign up completed")
	return &SignUpResult{
		UID:         uid,
		CVKPublic:   kg.commitments[0],
		PrismPublic: kg.commitments[1],
		Timestamp:   kg.timestamp,
	}, nil
}

// SignIn recovers the CVK for uid. When cvkPublic is non-nil the recovered
// key must match it.
func (c *Client) SignIn(ctx context.Context, uid string, password []byte, cvkPublic Point) (*SignInResult, error) {
	sess, err := c.applyPassword(ctx, uid, password)
	if err != nil {
		return nil, err
	}
	defer sess.zeroize()

	authData := make([][]byte, len(c.endpoints))
	for i, key := range sess.prismAuths {
		if authData[i], err = SealAuthData(key); err != nil {
			return nil, ErrInternal.WithCause(err)
		}
	}

	now := c.now()
	auth, err := fanOut(ctx, c, RoundAuthenticate, func(ctx context.Context, i int, api NodeAPI) (*AuthenticateResponse, error) {
		return api.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(now, sess.prismAuths[i], uid, sess.certTimes[i]),
			AuthData: authData[i],
		})
	})
	if err != nil {
		return nil, err
	}

	shares := make([]Scalar, len(auth))
	defer ZeroizeScalarSlice(shares)
	for i, a := range auth {
		if shares[i], err = OpenCVKShare(c.curve, sess.prismAuths[i], a.EncryptedCVK); err != nil {
			return nil, annotate(err, "node", i)
		}
	}

	lis, err := NewShamirSecretSharing(c.curve).LagrangeCoefficients(c.peers.IDs())
	if err != nil {
		return nil, ErrInvalidPeerSet.WithCause(err)
	}
	cvk := c.curve.ScalarZero()
	for i, s := range shares {
		cvk = cvk.Add(s.Mul(lis[i]))
	}
	pub := c.curve.BasePoint().Mul(cvk)
	if cvkPublic != nil && !pub.Equal(cvkPublic) {
		cvk.Zeroize()
		return nil, ErrAggregateSignatureInvalid.WithDetails("recovered CVK does not match its public key")
	}

	c.logger.Info().Str("uid", uid).Msg("sign in completed")
	return &SignInResult{UID: uid, CVK: cvk, CVKPublic: pub}, nil
}

// ChangePassword replaces the PRISM key of uid. The old password must
// authenticate at every node before the new share is committed.
func (c *Client) ChangePassword(ctx context.Context, uid string, oldPassword, newPassword []byte) (Point, error) {
	sess, err := c.applyPassword(ctx, uid, oldPassword)
	if err != nil {
		return nil, err
	}
	defer sess.zeroize()

	_, r, blinded, err := BlindPassword(newPassword)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer r.Zeroize()

	kg, err := c.runKeyGen(ctx, uid, 1, []Point{blinded})
	if err != nil {
		return nil, err
	}
	gPrismAuth, err := c.gPrismAuth(kg.multiplied[0], r)
	if err != nil {
		return nil, err
	}

	now := c.now()
	_, err = fanOut(ctx, c, RoundCommitPrism, func(ctx context.Context, j int, api NodeAPI) (*CommitPrismResponse, error) {
		return api.CommitPrism(ctx, &CommitPrismRequest{
			KeyID:      uid,
			TestPoint:  kg.commitments[0],
			State:      kg.states[j],
			GPrismAuth: gPrismAuth,
			Auth:       NewAuthProof(now, sess.prismAuths[j], uid, sess.certTimes[j]),
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("uid", uid).Msg("password changed")
	return kg.commitments[0], nil
}

// applyPassword runs Apply at every node and derives the per-node PrismAuth
// keys. A wrong password surfaces as DecryptionFailed on the cert times.
func (c *Client) applyPassword(ctx context.Context, uid string, password []byte) (*prismSession, error) {
	_, r, blinded, err := BlindPassword(password)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer r.Zeroize()

	applied, err := fanOut(ctx, c, RoundApply, func(ctx context.Context, i int, api NodeAPI) (*ApplyResponse, error) {
		return api.Apply(ctx, &ApplyRequest{UID: uid, BlindedPoint: blinded})
	})
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(applied))
	for i, a := range applied {
		if a.Applied == nil || !a.Applied.IsSafe() {
			return nil, ErrUnsafePoint.WithDetails("applied point from node %d", i)
		}
		points[i] = a.Applied
	}
	combined, err := CombineApplied(c.curve, c.peers.IDs(), points)
	if err != nil {
		return nil, err
	}
	keyPoint, err := Unblind(combined, r)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	h, err := PrismKeyScalar(c.curve, keyPoint)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	sess := &prismSession{
		h:          h,
		prismAuths: make([][]byte, len(applied)),
		certTimes:  make([][]byte, len(applied)),
	}
	for i, a := range applied {
		sess.prismAuths[i] = ClientPrismAuth(c.peers[i].PublicKey, h)
		if sess.certTimes[i], err = OpenCertTime(sess.prismAuths[i], a.EncCertTime); err != nil {
			sess.zeroize()
			return nil, annotate(err, "node", i)
		}
	}
	return sess, nil
}

// gPrismAuth unblinds the summed multiplied point and derives G·h.
func (c *Client) gPrismAuth(multiplied Point, r Scalar) (Point, error) {
	keyPoint, err := Unblind(multiplied, r)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	h, err := PrismKeyScalar(c.curve, keyPoint)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer h.Zeroize()
	return GPrismAuth(c.curve, h), nil
}
