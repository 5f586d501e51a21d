package prism

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// NodeEndpoint pairs a node's static public key with a way to call it.
type NodeEndpoint struct {
	PublicKey Point
	API       NodeAPI
}

// NodeDirectory resolves the nodes responsible for a user.
type NodeDirectory interface {
	NodesForUser(ctx context.Context, uid string) ([]NodeEndpoint, error)
}

// StaticDirectory serves the same node list for every user.
type StaticDirectory []NodeEndpoint

func (d StaticDirectory) NodesForUser(ctx context.Context, uid string) ([]NodeEndpoint, error) {
	return append([]NodeEndpoint(nil), d...), nil
}

// Client drives the protocol across a fixed, ordered node list. Every
// per-node slice it builds is indexed in that order.
type Client struct {
	curve     Curve
	endpoints []NodeEndpoint
	peers     Peers
	cfg       ClientConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewClient validates the node list against cfg.Threshold.
func NewClient(endpoints []NodeEndpoint, cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	curve := NewEd25519Curve()
	keys := make([]Point, len(endpoints))
	for i, ep := range endpoints {
		if ep.API == nil {
			return nil, ErrInvalidPeerSet.WithDetails("node %d has no API", i)
		}
		keys[i] = ep.PublicKey
	}
	peers, err := NewPeers(curve, keys)
	if err != nil {
		return nil, err
	}

	result := ValidatePeerSet(peers, cfg.Threshold)
	if err := result.Err(); err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "client").Logger()
	for _, w := range result.Warnings {
		logger.Warn().Int("peers", len(peers)).Int("threshold", cfg.Threshold).Msg(w)
	}

	return &Client{
		curve:     curve,
		endpoints: endpoints,
		peers:     peers,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// NewClientForUser resolves the user's nodes through dir.
func NewClientForUser(ctx context.Context, dir NodeDirectory, uid string, cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	endpoints, err := dir.NodesForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	return NewClient(endpoints, cfg, logger.With().Str("uid", uid).Logger())
}

// Peers returns the ordered peer list
func (c *Client) Peers() Peers { return c.peers }

// fanOut calls every node concurrently and waits for all of them. The first
// failure cancels the rest and aborts the round.
func fanOut[T any](ctx context.Context, c *Client, round string, call func(ctx context.Context, i int, api NodeAPI) (*T, error)) ([]*T, error) {
	if c.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RoundTimeout)
		defer cancel()
	}

	start := time.Now()
	out := make([]*T, len(c.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range c.endpoints {
		g.Go(func() error {
			resp, err := call(gctx, i, ep.API)
			if err != nil {
				return annotate(err, "node", i)
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn().Err(err).Str("round", round).Str("kind", string(KindOf(err))).Msg("round aborted")
		return nil, err
	}
	c.logger.Debug().Str("round", round).Dur("took", time.Since(start)).Msg("round completed")
	return out, nil
}

// keyGen is the outcome of GenShard, SendShard and PreCommit with a verified
// aggregate signature. States are the per-node commit blobs.
type keyGen struct {
	keyID       string
	timestamp   int64
	commitments []Point
	multiplied  []Point
	signature   *AggregateSignature
	states      [][]byte
}

func (c *Client) runKeyGen(ctx context.Context, keyID string, numSecrets int, multipliers []Point) (*keyGen, error) {
	peerKeys := c.peers.PublicKeys()

	gen, err := fanOut(ctx, c, RoundGenShard, func(ctx context.Context, i int, api NodeAPI) (*GenShardResponse, error) {
		return api.GenShard(ctx, &GenShardRequest{
			KeyID:       keyID,
			Peers:       peerKeys,
			NumSecrets:  numSecrets,
			Multipliers: multipliers,
		})
	})
	if err != nil {
		return nil, err
	}

	kg := &keyGen{keyID: keyID}
	timestamps := make([]int64, len(gen))
	bundles := make([][][]byte, len(gen))
	commitments := make([][]Point, len(gen))
	multiplied := make([][]Point, len(gen))
	for i, g := range gen {
		if len(g.Bundles) != len(c.peers) || len(g.Commitments) != numSecrets {
			return nil, ErrInvalidRequest.WithDetails("node %d returned a malformed GenShard response", i)
		}
		timestamps[i] = g.Timestamp
		bundles[i] = g.Bundles
		commitments[i] = g.Commitments
		multiplied[i] = g.Multiplied
	}
	if kg.timestamp, err = Median(timestamps); err != nil {
		return nil, ErrInvalidRequest.WithCause(err)
	}
	all := make([]bool, numSecrets)
	for n := range all {
		all[n] = true
	}
	if kg.commitments, err = sumColumns(c.curve, commitments, all); err != nil {
		return nil, err
	}
	want := make([]bool, len(multipliers))
	for n, m := range multipliers {
		want[n] = m != nil
	}
	if kg.multiplied, err = sumColumns(c.curve, multiplied, want); err != nil {
		return nil, err
	}

	toNode := TransposeBundles(bundles)
	send, err := fanOut(ctx, c, RoundSendShard, func(ctx context.Context, j int, api NodeAPI) (*SendShardResponse, error) {
		return api.SendShard(ctx, &SendShardRequest{KeyID: keyID, Bundles: toNode[j]})
	})
	if err != nil {
		return nil, err
	}

	tests := make([][]Point, len(send))
	nonces := make([]Point, len(send))
	for j, s := range send {
		if len(s.TestCommitments) != numSecrets || s.NonceCommitment == nil {
			return nil, ErrInvalidRequest.WithDetails("node %d returned a malformed SendShard response", j)
		}
		tests[j] = s.TestCommitments
		nonces[j] = s.NonceCommitment
	}
	if err := c.checkTestCommitments(tests, kg.commitments); err != nil {
		return nil, err
	}
	nonceSum := SumPoints(c.curve, nonces)

	pre, err := fanOut(ctx, c, RoundPreCommit, func(ctx context.Context, j int, api NodeAPI) (*PreCommitResponse, error) {
		return api.PreCommit(ctx, &PreCommitRequest{
			KeyID:           keyID,
			TestCommitments: tests,
			NonceSum:        nonceSum,
			State:           send[j].State,
		})
	})
	if err != nil {
		return nil, err
	}

	partials := make([]Scalar, len(pre))
	kg.states = make([][]byte, len(pre))
	for j, p := range pre {
		if p.PartialSignature == nil {
			return nil, ErrInvalidRequest.WithDetails("node %d returned no partial signature", j)
		}
		partials[j] = p.PartialSignature
		kg.states[j] = p.State
	}

	kg.signature = &AggregateSignature{
		R: GroupNonce(c.curve, peerKeys, nonceSum),
		S: CombinePartials(c.curve, partials),
	}
	if !kg.signature.Verify(c.curve, kg.commitments[0], kg.timestamp, keyID) {
		return nil, ErrAggregateSignatureInvalid.WithContext("key_id", keyID)
	}
	return kg, nil
}

func (c *Client) commit(ctx context.Context, kg *keyGen, gPrismAuth Point) ([]*CommitResponse, error) {
	return fanOut(ctx, c, RoundCommit, func(ctx context.Context, j int, api NodeAPI) (*CommitResponse, error) {
		return api.Commit(ctx, &CommitRequest{
			KeyID:      kg.keyID,
			S:          kg.signature.S,
			State:      kg.states[j],
			GPrismAuth: gPrismAuth,
		})
	})
}

// checkTestCommitments repeats the nodes' interpolation check so that a bad
// round is caught before PreCommit.
func (c *Client) checkTestCommitments(tests [][]Point, commitments []Point) error {
	lis, err := NewShamirSecretSharing(c.curve).LagrangeCoefficients(c.peers.IDs())
	if err != nil {
		return ErrInvalidPeerSet.WithCause(err)
	}
	for n, gk := range commitments {
		sum := c.curve.PointIdentity()
		for j := range tests {
			sum = sum.Add(tests[j][n].Mul(lis[j]))
		}
		if !sum.Equal(gk) {
			return ErrAggregateSignatureInvalid.WithDetails("test commitments do not interpolate to group commitment %d", n)
		}
	}
	return nil
}

// TransposeBundles reorders GenShard output for SendShard:
// out[j][i] = in[i][j], i.e. node j receives the bundle node i made for it.
func TransposeBundles(in [][][]byte) [][][]byte {
	if len(in) == 0 {
		return nil
	}
	out := make([][][]byte, len(in[0]))
	for j := range out {
		out[j] = make([][]byte, len(in))
		for i := range in {
			out[j][i] = in[i][j]
		}
	}
	return out
}

// sumColumns returns out[n] = Σ_i rows[i][n] for every n with want[n];
// other columns stay nil. A missing wanted entry is an error.
func sumColumns(curve Curve, rows [][]Point, want []bool) ([]Point, error) {
	out := make([]Point, len(want))
	for n, ok := range want {
		if !ok {
			continue
		}
		sum := curve.PointIdentity()
		for i, row := range rows {
			if n >= len(row) || row[n] == nil {
				return nil, ErrInvalidRequest.WithDetails("node %d is missing point %d", i, n)
			}
			sum = sum.Add(row[n])
		}
		out[n] = sum
	}
	return out, nil
}
