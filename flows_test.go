package prism

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signUp(t *testing.T, c *testCluster, uid, password string) (*Client, *SignUpResult) {
	t.Helper()
	client := c.client(t)
	res, err := client.SignUp(context.Background(), uid, []byte(password))
	require.NoError(t, err)
	return client, res
}

func TestSignUpSignIn(t *testing.T) {
	ctx := context.Background()
	curve := NewEd25519Curve()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")

	client, up := signUp(t, c, uid, "hunter2")
	assert.Equal(t, uid, up.UID)
	assert.True(t, up.CVKPublic.IsSafe())
	assert.True(t, up.PrismPublic.IsSafe())
	assert.False(t, up.CVKPublic.Equal(up.PrismPublic))

	for _, store := range c.stores {
		record, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.NotEmpty(t, record.CVK)
		assert.NotEmpty(t, record.Prism)
		assert.Len(t, record.PrismAuth, EnvelopeKeySize)
	}

	in, err := client.SignIn(ctx, uid, []byte("hunter2"), up.CVKPublic)
	require.NoError(t, err)
	assert.True(t, curve.BasePoint().Mul(in.CVK).Equal(up.CVKPublic))
	assert.True(t, in.CVKPublic.Equal(up.CVKPublic))

	again, err := client.SignIn(ctx, uid, []byte("hunter2"), nil)
	require.NoError(t, err)
	assert.True(t, again.CVK.Equal(in.CVK))
}

func TestSignInWrongPassword(t *testing.T) {
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	client, up := signUp(t, c, uid, "hunter2")

	_, err := client.SignIn(context.Background(), uid, []byte("hunter3"), up.CVKPublic)
	require.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Contains(t, GetErrorContext(err), "node")
}

func TestSignInUnknownUser(t *testing.T) {
	c := newTestCluster(t, 3, 2)
	_, err := c.client(t).SignIn(context.Background(), UserID("ghost"), []byte("pw"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignInPublicKeyMismatch(t *testing.T) {
	curve := NewEd25519Curve()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	client, _ := signUp(t, c, uid, "hunter2")

	_, err := client.SignIn(context.Background(), uid, []byte("hunter2"), curve.BasePoint())
	assert.ErrorIs(t, err, ErrAggregateSignatureInvalid)
}

func TestSignUpExistingUserRefused(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	client, up := signUp(t, c, uid, "victim-pw")

	_, err := c.client(t).SignUp(ctx, uid, []byte("attacker-pw"))
	require.ErrorIs(t, err, ErrInvalidState)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrKeyExists.Code, pe.Code)

	in, err := client.SignIn(ctx, uid, []byte("victim-pw"), up.CVKPublic)
	require.NoError(t, err)
	assert.True(t, in.CVKPublic.Equal(up.CVKPublic))

	_, err = c.client(t).SignIn(ctx, uid, []byte("attacker-pw"), nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	client, up := signUp(t, c, uid, "old-password")

	before := make([][]byte, len(c.stores))
	for i, store := range c.stores {
		record, err := store.Get(ctx, uid)
		require.NoError(t, err)
		before[i] = record.CVK
	}

	_, err := client.ChangePassword(ctx, uid, []byte("wrong"), []byte("new-password"))
	require.ErrorIs(t, err, ErrDecryptionFailed)

	prismPublic, err := client.ChangePassword(ctx, uid, []byte("old-password"), []byte("new-password"))
	require.NoError(t, err)
	assert.False(t, prismPublic.Equal(up.PrismPublic))

	for i, store := range c.stores {
		record, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, before[i], record.CVK, "CVK share of node %d changed", i)
	}

	in, err := client.SignIn(ctx, uid, []byte("new-password"), up.CVKPublic)
	require.NoError(t, err)
	assert.True(t, in.CVKPublic.Equal(up.CVKPublic))

	_, err = client.SignIn(ctx, uid, []byte("old-password"), up.CVKPublic)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCommitPrismRequiresProof(t *testing.T) {
	ctx := context.Background()
	curve := NewEd25519Curve()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	signUp(t, c, uid, "pw")

	round := c.runToPreCommit(t, uid, 1, nil)
	h, err := curve.ScalarRandom()
	require.NoError(t, err)

	_, err = c.nodes[0].CommitPrism(ctx, &CommitPrismRequest{
		KeyID:      uid,
		TestPoint:  round.gk[0],
		State:      round.pre[0].State,
		GPrismAuth: GPrismAuth(curve, h),
	})
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged := NewAuthProof(c.clock.Now(), ClientPrismAuth(c.peers[0], h), uid,
		GenerateTranToken(c.clock.Now(), c.nodes[0].certKey, certPayload(uid)).Bytes())
	_, err = c.nodes[0].CommitPrism(ctx, &CommitPrismRequest{
		KeyID:      uid,
		TestPoint:  round.gk[0],
		State:      round.pre[0].State,
		GPrismAuth: GPrismAuth(curve, h),
		Auth:       forged,
	})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.nodes[0].CommitPrism(ctx, &CommitPrismRequest{
		KeyID:     uid,
		TestPoint: curve.BasePoint(),
		State:     round.pre[0].State,
	})
	assert.ErrorIs(t, err, ErrAggregateSignatureInvalid)
}

func TestAuthenticateChecks(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	client, _ := signUp(t, c, uid, "pw")

	sess, err := client.applyPassword(ctx, uid, []byte("pw"))
	require.NoError(t, err)
	node := c.nodes[0]
	authData, err := SealAuthData(sess.prismAuths[0])
	require.NoError(t, err)

	t.Run("valid proof", func(t *testing.T) {
		resp, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[0], uid, sess.certTimes[0]),
			AuthData: authData,
		})
		require.NoError(t, err)
		_, err = OpenCVKShare(NewEd25519Curve(), sess.prismAuths[0], resp.EncryptedCVK)
		assert.NoError(t, err)
	})

	t.Run("cert time from another node", func(t *testing.T) {
		_, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[0], uid, sess.certTimes[1]),
			AuthData: authData,
		})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("cert time under the session state key", func(t *testing.T) {
		forged := GenerateTranToken(c.clock.Now(), StateKey(node.priv), certPayload(uid)).Bytes()
		_, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[0], uid, forged),
			AuthData: authData,
		})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token under the wrong key", func(t *testing.T) {
		_, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[1], uid, sess.certTimes[0]),
			AuthData: authData,
		})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     AuthProof{Token: []byte{1, 2, 3}, CertTime: sess.certTimes[0]},
			AuthData: authData,
		})
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("auth data under the wrong key", func(t *testing.T) {
		other, err := SealAuthData(sess.prismAuths[1])
		require.NoError(t, err)
		_, err = node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[0], uid, sess.certTimes[0]),
			AuthData: other,
		})
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("stale cert time", func(t *testing.T) {
		c.clock.Advance(DefaultTokenWindow + time.Second)
		_, err := node.Authenticate(ctx, &AuthenticateRequest{
			UID:      uid,
			Auth:     *NewAuthProof(c.clock.Now(), sess.prismAuths[0], uid, sess.certTimes[0]),
			AuthData: authData,
		})
		assert.ErrorIs(t, err, ErrExpired)
	})
}

// faultyNode fails Apply and passes everything else through.
type faultyNode struct {
	*Node
	err error
}

func (f *faultyNode) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	return nil, f.err
}

// stalledNode blocks Apply until the round is cancelled.
type stalledNode struct {
	*Node
}

func (s *stalledNode) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFanOutAbortsOnNodeFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	signUp(t, c, uid, "pw")

	endpoints := c.endpoints()
	endpoints[2].API = &faultyNode{Node: c.nodes[2], err: ErrInternal.WithDetails("disk on fire")}
	client, err := NewClient(endpoints, DefaultClientConfig(), zerolog.Nop())
	require.NoError(t, err)
	client.now = c.clock.Now

	_, err = client.SignIn(ctx, uid, []byte("pw"), nil)
	require.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, 2, GetErrorContext(err)["node"])

	endpoints[2].API = &faultyNode{Node: c.nodes[2], err: errors.New("connection reset")}
	client, err = NewClient(endpoints, DefaultClientConfig(), zerolog.Nop())
	require.NoError(t, err)
	_, err = client.SignIn(ctx, uid, []byte("pw"), nil)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestFanOutRoundTimeout(t *testing.T) {
	c := newTestCluster(t, 3, 2)
	uid := UserID("alice")
	signUp(t, c, uid, "pw")

	endpoints := c.endpoints()
	endpoints[1].API = &stalledNode{Node: c.nodes[1]}
	cfg := DefaultClientConfig()
	cfg.RoundTimeout = 50 * time.Millisecond
	client, err := NewClient(endpoints, cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), uid, []byte("pw"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
