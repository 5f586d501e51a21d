package httpnode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismdkg/prism"
)

type httpCluster struct {
	nodes     []*prism.Node
	servers   []*httptest.Server
	endpoints []prism.NodeEndpoint
}

func newHTTPCluster(t *testing.T, n int, cfg Config) *httpCluster {
	t.Helper()
	c := &httpCluster{}
	for i := 0; i < n; i++ {
		priv, err := prism.GenerateNodeKey()
		require.NoError(t, err)
		node, err := prism.NewNode(priv, prism.NodeOptions{Logger: zerolog.Nop()})
		require.NoError(t, err)

		srv, err := NewServer(node, cfg, zerolog.Nop(), WithGatherer(prometheus.NewRegistry()), WithNodeID(node.ID().String()))
		require.NoError(t, err)
		ts := httptest.NewServer(srv.Handler())
		t.Cleanup(ts.Close)

		c.nodes = append(c.nodes, node)
		c.servers = append(c.servers, ts)
		c.endpoints = append(c.endpoints, prism.NodeEndpoint{
			PublicKey: node.PublicKey(),
			API:       NewClient(ts.URL, ts.Client()),
		})
	}
	return c
}

func (c *httpCluster) client(t *testing.T) *prism.Client {
	t.Helper()
	client, err := prism.NewClient(c.endpoints, prism.DefaultClientConfig(), zerolog.Nop())
	require.NoError(t, err)
	return client
}

func unthrottled() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 0
	return cfg
}

func TestSignUpSignInOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newHTTPCluster(t, 3, unthrottled())
	client := c.client(t)
	uid := prism.UserID("alice")

	up, err := client.SignUp(ctx, uid, []byte("hunter2"))
	require.NoError(t, err)

	in, err := client.SignIn(ctx, uid, []byte("hunter2"), up.CVKPublic)
	require.NoError(t, err)
	assert.True(t, in.CVKPublic.Equal(up.CVKPublic))

	_, err = client.SignIn(ctx, uid, []byte("wrong"), up.CVKPublic)
	assert.ErrorIs(t, err, prism.ErrDecryptionFailed)

	_, err = client.ChangePassword(ctx, uid, []byte("hunter2"), []byte("hunter3"))
	require.NoError(t, err)

	in, err = client.SignIn(ctx, uid, []byte("hunter3"), up.CVKPublic)
	require.NoError(t, err)
	assert.True(t, in.CVKPublic.Equal(up.CVKPublic))
}

func TestErrorKindsSurviveTransport(t *testing.T) {
	ctx := context.Background()
	c := newHTTPCluster(t, 3, unthrottled())
	api := c.endpoints[0].API
	curve := prism.NewEd25519Curve()

	_, _, blinded, err := prism.BlindPassword([]byte("pw"))
	require.NoError(t, err)

	_, err = api.Apply(ctx, &prism.ApplyRequest{UID: "ghost", BlindedPoint: blinded})
	require.ErrorIs(t, err, prism.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, prism.GetErrorContext(err)["http_status"])

	_, err = api.SendShard(ctx, &prism.SendShardRequest{KeyID: "none", Bundles: [][]byte{{1}, {2}}})
	assert.ErrorIs(t, err, prism.ErrSessionStateMissing)

	_, err = api.Apply(ctx, &prism.ApplyRequest{UID: "ghost", BlindedPoint: curve.PointIdentity()})
	assert.ErrorIs(t, err, prism.ErrUnsafePoint)

	peers := make([]prism.Point, len(c.nodes))
	for i, n := range c.nodes {
		peers[i] = n.PublicKey()
	}
	_, err = api.GenShard(ctx, &prism.GenShardRequest{KeyID: "k", Peers: peers[:1], NumSecrets: 1})
	assert.ErrorIs(t, err, prism.ErrInvalidPeerSet)
}

func TestMalformedBody(t *testing.T) {
	c := newHTTPCluster(t, 1, unthrottled())
	resp, err := http.Post(c.servers[0].URL+"/api/v1/prism/u/apply", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, prism.KindInvalidRequest, body.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	c := newHTTPCluster(t, 1, unthrottled())

	resp, err := http.Get(c.servers[0].URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, c.nodes[0].ID().String(), health.NodeID)

	metrics, err := http.Get(c.servers[0].URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestThrottlePerUser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 1
	cfg.Burst = 2
	c := newHTTPCluster(t, 1, cfg)
	url := c.servers[0].URL

	post := func(uid string) int {
		resp, err := http.Post(url+"/api/v1/prism/"+uid+"/apply", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.NotEqual(t, http.StatusTooManyRequests, post("alice"))
	assert.NotEqual(t, http.StatusTooManyRequests, post("alice"))
	assert.Equal(t, http.StatusTooManyRequests, post("alice"))
	assert.NotEqual(t, http.StatusTooManyRequests, post("bob"))

	_, err := c.endpoints[0].API.Apply(context.Background(), &prism.ApplyRequest{UID: "alice"})
	assert.ErrorIs(t, err, prism.ErrInvalidRequest)
}

func TestThrottleCleanup(t *testing.T) {
	th := newThrottle(60, 1, -time.Second)
	assert.True(t, th.allow("a"))
	assert.False(t, th.allow("a"))
	assert.Equal(t, 1, th.cleanup())
	assert.True(t, th.allow("a"))
}

// panickingNode panics on every call.
type panickingNode struct {
	prism.NodeAPI
}

func (panickingNode) Apply(ctx context.Context, req *prism.ApplyRequest) (*prism.ApplyResponse, error) {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	srv, err := NewServer(panickingNode{}, unthrottled(), zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, _, blinded, err := prism.BlindPassword([]byte("pw"))
	require.NoError(t, err)
	_, err = NewClient(ts.URL, ts.Client()).Apply(context.Background(), &prism.ApplyRequest{UID: "u", BlindedPoint: blinded})
	require.ErrorIs(t, err, prism.ErrInternal)
	assert.Equal(t, http.StatusInternalServerError, prism.GetErrorContext(err)["http_status"])
}

func TestStatusForKind(t *testing.T) {
	tests := map[prism.ErrorKind]int{
		prism.KindInvalidPeerSet:            http.StatusBadRequest,
		prism.KindUnsafePoint:               http.StatusBadRequest,
		prism.KindDecryptionFailed:          http.StatusForbidden,
		prism.KindSessionStateMissing:       http.StatusNotFound,
		prism.KindKeyIDMismatch:             http.StatusConflict,
		prism.KindExpiredShare:              http.StatusGone,
		prism.KindAggregateSignatureInvalid: http.StatusUnprocessableEntity,
		prism.KindInternal:                  http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}

func TestDecodePoints(t *testing.T) {
	curve := prism.NewEd25519Curve()

	points, err := decodePoints(curve, encodePoints([]prism.Point{nil, curve.BasePoint()}))
	require.NoError(t, err)
	assert.Nil(t, points[0])
	assert.True(t, points[1].Equal(curve.BasePoint()))

	points, err = decodePoints(curve, nil)
	require.NoError(t, err)
	assert.Nil(t, points)

	_, err = decodePoints(curve, [][]byte{make([]byte, 31)})
	require.ErrorIs(t, err, prism.ErrUnsafePoint)
	assert.Equal(t, 0, prism.GetErrorContext(err)["index"])
}
