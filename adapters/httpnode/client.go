package httpnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prismdkg/prism"
)

// Client calls a remote node over HTTP. It implements prism.NodeAPI, except
// that Commit returns no shares and CommitPrism returns no share.
type Client struct {
	baseURL string
	http    *http.Client
	curve   prism.Curve
}

var _ prism.NodeAPI = (*Client)(nil)

// NewClient creates a client for the node at baseURL. A nil httpClient
// selects one with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		curve:   prism.NewEd25519Curve(),
	}
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return prism.ErrInternal.WithCause(fmt.Errorf("failed to encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return prism.ErrInternal.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return prism.ErrInternal.WithCause(fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return prism.ErrInternal.WithCause(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.Unmarshal(raw, &e); err != nil || e.Kind == "" {
			return prism.ErrInternal.WithDetails("unexpected status %d", resp.StatusCode)
		}
		return errorFromResponse(resp.StatusCode, &e)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return prism.ErrInternal.WithCause(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func keyPath(keyID, op string) string {
	return "/api/v1/keys/" + url.PathEscape(keyID) + "/" + op
}

func prismPath(uid, op string) string {
	return "/api/v1/prism/" + url.PathEscape(uid) + "/" + op
}

func (c *Client) GenShard(ctx context.Context, req *prism.GenShardRequest) (*prism.GenShardResponse, error) {
	var out genShardResponse
	err := c.post(ctx, keyPath(req.KeyID, "genshard"), genShardRequest{
		Peers:       encodePoints(req.Peers),
		NumSecrets:  req.NumSecrets,
		Multipliers: encodePoints(req.Multipliers),
	}, &out)
	if err != nil {
		return nil, err
	}
	commitments, err := decodePoints(c.curve, out.Commitments)
	if err != nil {
		return nil, err
	}
	multiplied, err := decodePoints(c.curve, out.Multiplied)
	if err != nil {
		return nil, err
	}
	return &prism.GenShardResponse{
		Bundles:     out.Bundles,
		Commitments: commitments,
		Multiplied:  multiplied,
		Timestamp:   out.Timestamp,
	}, nil
}

func (c *Client) SendShard(ctx context.Context, req *prism.SendShardRequest) (*prism.SendShardResponse, error) {
	var out sendShardResponse
	err := c.post(ctx, keyPath(req.KeyID, "sendshard"), sendShardRequest{
		Bundles:     req.Bundles,
		Multipliers: encodePoints(req.Multipliers),
	}, &out)
	if err != nil {
		return nil, err
	}
	tests, err := decodePoints(c.curve, out.TestCommitments)
	if err != nil {
		return nil, err
	}
	nonce, err := decodePoint(c.curve, out.NonceCommitment)
	if err != nil {
		return nil, err
	}
	multiplied, err := decodePoints(c.curve, out.Multiplied)
	if err != nil {
		return nil, err
	}
	return &prism.SendShardResponse{
		TestCommitments: tests,
		NonceCommitment: nonce,
		Multiplied:      multiplied,
		State:           out.State,
	}, nil
}

func (c *Client) PreCommit(ctx context.Context, req *prism.PreCommitRequest) (*prism.PreCommitResponse, error) {
	tests := make([][][]byte, len(req.TestCommitments))
	for j, row := range req.TestCommitments {
		tests[j] = encodePoints(row)
	}
	var out preCommitResponse
	err := c.post(ctx, keyPath(req.KeyID, "precommit"), preCommitRequest{
		TestCommitments: tests,
		NonceSum:        encodePoint(req.NonceSum),
		State:           req.State,
	}, &out)
	if err != nil {
		return nil, err
	}
	partial, err := decodeScalar(c.curve, out.PartialSignature)
	if err != nil {
		return nil, err
	}
	return &prism.PreCommitResponse{PartialSignature: partial, State: out.State}, nil
}

func (c *Client) Commit(ctx context.Context, req *prism.CommitRequest) (*prism.CommitResponse, error) {
	in := commitRequest{State: req.State, GPrismAuth: encodePoint(req.GPrismAuth)}
	if req.S != nil {
		in.S = req.S.Bytes()
	}
	var out commitResponse
	if err := c.post(ctx, keyPath(req.KeyID, "commit"), in, &out); err != nil {
		return nil, err
	}
	commitments, err := decodePoints(c.curve, out.Commitments)
	if err != nil {
		return nil, err
	}
	return &prism.CommitResponse{Commitments: commitments, Timestamp: out.Timestamp}, nil
}

func (c *Client) CommitPrism(ctx context.Context, req *prism.CommitPrismRequest) (*prism.CommitPrismResponse, error) {
	var out commitPrismResponse
	err := c.post(ctx, keyPath(req.KeyID, "commitprism"), commitPrismRequest{
		TestPoint:  encodePoint(req.TestPoint),
		State:      req.State,
		GPrismAuth: encodePoint(req.GPrismAuth),
		Auth:       fromAuthProof(req.Auth),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &prism.CommitPrismResponse{}, nil
}

func (c *Client) Apply(ctx context.Context, req *prism.ApplyRequest) (*prism.ApplyResponse, error) {
	var out applyResponse
	err := c.post(ctx, prismPath(req.UID, "apply"), applyRequest{
		BlindedPoint: encodePoint(req.BlindedPoint),
	}, &out)
	if err != nil {
		return nil, err
	}
	applied, err := decodePoint(c.curve, out.Applied)
	if err != nil {
		return nil, err
	}
	return &prism.ApplyResponse{Applied: applied, EncCertTime: out.EncCertTime}, nil
}

func (c *Client) Authenticate(ctx context.Context, req *prism.AuthenticateRequest) (*prism.AuthenticateResponse, error) {
	var out authenticateResponse
	err := c.post(ctx, prismPath(req.UID, "authenticate"), authenticateRequest{
		Auth:     *fromAuthProof(&req.Auth),
		AuthData: req.AuthData,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &prism.AuthenticateResponse{EncryptedCVK: out.EncryptedCVK}, nil
}
