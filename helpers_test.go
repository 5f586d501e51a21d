package prism

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock shared by every node in a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testCluster struct {
	nodes  []*Node
	stores []*MemoryKeyStore
	peers  []Point
	clock  *fakeClock
}

func newTestCluster(t *testing.T, n, threshold int) *testCluster {
	t.Helper()

	c := &testCluster{clock: newFakeClock()}
	cfg := DefaultNodeConfig()
	cfg.Threshold = threshold
	for i := 0; i < n; i++ {
		priv, err := GenerateNodeKey()
		require.NoError(t, err)

		store := NewMemoryKeyStore()
		node, err := NewNode(priv, NodeOptions{
			Config: cfg,
			Store:  store,
			Logger: zerolog.Nop(),
			Clock:  c.clock.Now,
		})
		require.NoError(t, err)

		c.nodes = append(c.nodes, node)
		c.stores = append(c.stores, store)
		c.peers = append(c.peers, node.PublicKey())
	}
	return c
}

func (c *testCluster) endpoints() []NodeEndpoint {
	eps := make([]NodeEndpoint, len(c.nodes))
	for i, n := range c.nodes {
		eps[i] = NodeEndpoint{PublicKey: n.PublicKey(), API: n}
	}
	return eps
}

func (c *testCluster) client(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Threshold = c.nodes[0].Config().Threshold
	client, err := NewClient(c.endpoints(), cfg, zerolog.Nop())
	require.NoError(t, err)
	client.now = c.clock.Now
	return client
}

// genShardAll runs GenShard on every node and returns the bundles transposed
// for SendShard along with the responses.
func (c *testCluster) genShardAll(t *testing.T, keyID string, numSecrets int, multipliers []Point) ([]*GenShardResponse, [][][]byte) {
	t.Helper()
	ctx := context.Background()

	resps := make([]*GenShardResponse, len(c.nodes))
	bundles := make([][][]byte, len(c.nodes))
	for i, n := range c.nodes {
		resp, err := n.GenShard(ctx, &GenShardRequest{
			KeyID:       keyID,
			Peers:       c.peers,
			NumSecrets:  numSecrets,
			Multipliers: multipliers,
		})
		require.NoError(t, err)
		resps[i] = resp
		bundles[i] = resp.Bundles
	}
	return resps, TransposeBundles(bundles)
}

func (c *testCluster) sendShardAll(t *testing.T, keyID string, toNode [][][]byte) []*SendShardResponse {
	t.Helper()
	resps := make([]*SendShardResponse, len(c.nodes))
	for j, n := range c.nodes {
		resp, err := n.SendShard(context.Background(), &SendShardRequest{KeyID: keyID, Bundles: toNode[j]})
		require.NoError(t, err)
		resps[j] = resp
	}
	return resps
}

func collectTests(curve Curve, send []*SendShardResponse) ([][]Point, Point) {
	tests := make([][]Point, len(send))
	nonces := make([]Point, len(send))
	for j, s := range send {
		tests[j] = s.TestCommitments
		nonces[j] = s.NonceCommitment
	}
	return tests, SumPoints(curve, nonces)
}
