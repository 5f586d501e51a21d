package prism

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// GenShard starts a key generation round for req.KeyID. Any session already
// cached for the key id is discarded first, so calling GenShard again is a
// clean restart.
func (n *Node) GenShard(ctx context.Context, req *GenShardRequest) (*GenShardResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.KeyID)
	defer unlock()

	n.cache.Delete(req.KeyID)
	resp, err := n.genShard(req)
	n.finish(RoundGenShard, req.KeyID, len(req.Peers), start, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *Node) genShard(req *GenShardRequest) (*GenShardResponse, error) {
	if req.KeyID == "" {
		return nil, ErrInvalidRequest.WithDetails("key id is required")
	}
	if req.NumSecrets < 1 {
		return nil, ErrInvalidRequest.WithDetails("number of secrets must be at least 1, got %d", req.NumSecrets)
	}
	if len(req.Multipliers) > req.NumSecrets {
		return nil, ErrInvalidRequest.WithDetails("%d multipliers for %d secrets", len(req.Multipliers), req.NumSecrets)
	}
	if len(req.Peers) < 2 {
		return nil, ErrInvalidPeerSet.WithDetails("need at least 2 peers, got %d", len(req.Peers))
	}

	peers, err := NewPeers(n.curve, req.Peers)
	if err != nil {
		return nil, err
	}
	if err := ValidatePeerSet(peers, n.cfg.Threshold).Err(); err != nil {
		return nil, err
	}
	if peers.IndexOf(n.pub) < 0 {
		return nil, ErrInvalidPeerSet.WithDetails("node public key is not in the peer set")
	}
	for i, m := range req.Multipliers {
		if m != nil && !m.IsSafe() {
			return nil, ErrUnsafePoint.WithDetails("multiplier %d", i)
		}
	}

	ids := peers.IDs()
	li, err := n.sss.EvalLi(n.id, ids)
	if err != nil {
		return nil, ErrInvalidPeerSet.WithCause(err)
	}

	pairwise := make([][]byte, len(peers))
	for i, p := range peers {
		key, err := PairwiseKey(n.priv, n.pub, p.PublicKey)
		if err != nil {
			return nil, err
		}
		pairwise[i] = key
	}

	timestamp := n.now().UnixNano()
	secrets := make([]Scalar, req.NumSecrets)
	defer ZeroizeScalarSlice(secrets)
	commitments := make([]Point, req.NumSecrets)
	multiplied := make([]Point, len(req.Multipliers))
	shares := make([][]*Share, req.NumSecrets)

	for s := 0; s < req.NumSecrets; s++ {
		k, err := n.curve.ScalarRandom()
		if err != nil {
			return nil, ErrInternal.WithCause(err)
		}
		secrets[s] = k
		commitments[s] = n.curve.BasePoint().Mul(k)

		shares[s], err = n.sss.Share(k, ids, n.cfg.Threshold)
		if err != nil {
			return nil, ErrInternal.WithCause(err)
		}
		if s < len(req.Multipliers) && req.Multipliers[s] != nil {
			multiplied[s] = req.Multipliers[s].Mul(k)
		}
	}

	commitmentBytes := pointsToBytes(commitments)
	bundles := make([][]byte, len(peers))
	for j := range peers {
		payload := make([][]byte, req.NumSecrets)
		for s := range shares {
			payload[s] = shares[s][j].Value.Bytes()
		}
		bundles[j], err = sealBundle(pairwise[j], &ShareBundle{
			KeyID:       req.KeyID,
			Timestamp:   timestamp,
			Shares:      payload,
			Commitments: commitmentBytes,
		})
		ZeroizeByteSlices(payload)
		if err != nil {
			return nil, err
		}
	}
	for s := range shares {
		for _, sh := range shares[s] {
			sh.Value.Zeroize()
		}
	}

	state := &SessionState{
		Stage:        StageGenShardDone,
		KeyID:        req.KeyID,
		Peers:        pointsToBytes(peers.PublicKeys()),
		PairwiseKeys: pairwise,
		Li:           li.Bytes(),
		Secrets:      scalarsToBytes(secrets),
		Timestamp:    timestamp,
	}
	defer state.Zeroize()

	blob, err := state.seal(n.stateKey, purposeSession)
	if err != nil {
		return nil, err
	}
	n.cache.Put(req.KeyID, blob)

	return &GenShardResponse{
		Bundles:     bundles,
		Commitments: commitments,
		Multiplied:  multiplied,
		Timestamp:   timestamp,
	}, nil
}

// SendShard (SetKey) consumes the bundles addressed to this node. Bundles
// must be in the order of the GenShard peer list.
func (n *Node) SendShard(ctx context.Context, req *SendShardRequest) (*SendShardResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.KeyID)
	defer unlock()

	resp, err := n.sendShard(req)
	n.finish(RoundSendShard, req.KeyID, len(req.Bundles), start, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *Node) sendShard(req *SendShardRequest) (*SendShardResponse, error) {
	state, err := n.takeSession(req.KeyID, StageGenShardDone)
	if err != nil {
		return nil, err
	}
	defer state.Zeroize()

	if len(req.Bundles) != len(state.Peers) {
		return nil, ErrInvalidRequest.WithDetails("expected %d bundles, got %d", len(state.Peers), len(req.Bundles))
	}

	numSecrets := len(state.Secrets)
	opened := make([]*ShareBundle, len(req.Bundles))
	defer func() {
		for _, b := range opened {
			if b != nil {
				ZeroizeByteSlices(b.Shares)
			}
		}
	}()

	timestamps := make([]int64, len(req.Bundles))
	for i, blob := range req.Bundles {
		b, err := openBundle(state.PairwiseKeys[i], blob)
		if err != nil {
			return nil, annotate(err, "peer", i)
		}
		opened[i] = b
		if b.KeyID != req.KeyID {
			return nil, ErrKeyIDMismatch.WithDetails("bundle from peer %d is for another key", i).WithContext("peer", i)
		}
		if len(b.Shares) != numSecrets || len(b.Commitments) != numSecrets {
			return nil, ErrInvalidRequest.WithDetails("bundle from peer %d carries %d shares, want %d", i, len(b.Shares), numSecrets)
		}
		timestamps[i] = b.Timestamp
	}

	median, err := Median(timestamps)
	if err != nil {
		return nil, ErrInvalidRequest.WithCause(err)
	}
	for i, ts := range timestamps {
		if !withinWindow(ts, median, n.window()) {
			return nil, ErrExpiredShare.WithContext("peer", i)
		}
	}

	y := make([]Scalar, numSecrets)
	defer ZeroizeScalarSlice(y)
	gk := make([]Point, numSecrets)
	test := make([]Point, numSecrets)
	for s := 0; s < numSecrets; s++ {
		sum := n.curve.ScalarZero()
		group := n.curve.PointIdentity()
		for i, b := range opened {
			share, err := n.curve.ScalarFromBytes(b.Shares[s])
			if err != nil {
				return nil, ErrInvalidRequest.WithCause(err).WithContext("peer", i)
			}
			sum = sum.Add(share)

			c, err := DecodeSafePoint(n.curve, b.Commitments[s])
			if err != nil {
				return nil, annotate(err, "peer", i)
			}
			group = group.Add(c)
		}
		y[s] = sum
		gk[s] = group
		test[s] = n.curve.BasePoint().Mul(sum)
	}

	secrets, err := scalarsFromBytes(n.curve, state.Secrets)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer ZeroizeScalarSlice(secrets)

	if len(req.Multipliers) > numSecrets {
		return nil, ErrInvalidRequest.WithDetails("%d multipliers for %d secrets", len(req.Multipliers), numSecrets)
	}
	multiplied := make([]Point, len(req.Multipliers))
	for s, m := range req.Multipliers {
		if m == nil {
			continue
		}
		if !m.IsSafe() {
			return nil, ErrUnsafePoint.WithDetails("multiplier %d", s)
		}
		multiplied[s] = m.Mul(secrets[s])
	}

	r, err := n.curve.ScalarRandom()
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer r.Zeroize()

	next := &SessionState{
		Stage:     StageShardsCollected,
		KeyID:     req.KeyID,
		Peers:     state.Peers,
		Li:        state.Li,
		Timestamp: median,
		Y:         scalarsToBytes(y),
		GK:        pointsToBytes(gk),
		Nonce:     r.Bytes(),
	}
	defer next.Zeroize()

	blob, err := next.seal(n.stateKey, purposeSession)
	if err != nil {
		return nil, err
	}
	n.cache.Put(req.KeyID, blob)

	return &SendShardResponse{
		TestCommitments: test,
		NonceCommitment: n.curve.BasePoint().Mul(r),
		Multiplied:      multiplied,
		State:           blob,
	}, nil
}

// PreCommit checks every node's test commitments against the group
// commitments and returns this node's partial signature
// S_i = priv + r + H·Y_0·L_i. The returned state is sealed under the node's
// long-lived key and no longer cached.
func (n *Node) PreCommit(ctx context.Context, req *PreCommitRequest) (*PreCommitResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.KeyID)
	defer unlock()

	resp, err := n.preCommit(req)
	n.finish(RoundPreCommit, req.KeyID, len(req.TestCommitments), start, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *Node) preCommit(req *PreCommitRequest) (*PreCommitResponse, error) {
	blob, ok := n.cache.Get(req.KeyID)
	if !ok {
		return nil, ErrSessionStateMissing.WithContext("key_id", req.KeyID)
	}
	n.cache.Delete(req.KeyID)

	if len(req.State) > 0 && !bytes.Equal(req.State, blob) {
		return nil, ErrDecryptionFailed.WithDetails("supplied state does not match the cached session")
	}

	state, err := openSessionState(n.stateKey, blob, purposeSession)
	if err != nil {
		return nil, err
	}
	defer state.Zeroize()
	if err := checkSession(state, req.KeyID, StageShardsCollected); err != nil {
		return nil, err
	}
	if !withinWindow(state.Timestamp, n.now().UnixNano(), n.window()) {
		return nil, ErrExpired.WithContext("key_id", req.KeyID)
	}

	peerKeys, err := pointsFromBytes(n.curve, state.Peers)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	peers, err := NewPeers(n.curve, peerKeys)
	if err != nil {
		return nil, err
	}
	numSecrets := len(state.Y)

	if len(req.TestCommitments) != len(peers) {
		return nil, ErrInvalidRequest.WithDetails("expected test commitments from %d peers, got %d", len(peers), len(req.TestCommitments))
	}
	for j, row := range req.TestCommitments {
		if len(row) != numSecrets {
			return nil, ErrInvalidRequest.WithDetails("peer %d sent %d test commitments, want %d", j, len(row), numSecrets)
		}
		for s, p := range row {
			if p == nil || !p.IsSafe() {
				return nil, ErrUnsafePoint.WithDetails("test commitment %d of peer %d", s, j)
			}
		}
	}
	if req.NonceSum == nil || !req.NonceSum.IsSafe() {
		return nil, ErrUnsafePoint.WithDetails("nonce commitment sum")
	}

	lis, err := n.sss.LagrangeCoefficients(peers.IDs())
	if err != nil {
		return nil, ErrInvalidPeerSet.WithCause(err)
	}
	gk, err := pointsFromBytes(n.curve, state.GK)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	y, err := scalarsFromBytes(n.curve, state.Y)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer ZeroizeScalarSlice(y)

	self := peers.IndexOf(n.pub)
	for s := 0; s < numSecrets; s++ {
		weighted := n.curve.PointIdentity()
		for j, row := range req.TestCommitments {
			weighted = weighted.Add(row[s].Mul(lis[j]))
		}
		if !weighted.Equal(gk[s]) {
			return nil, ErrAggregateSignatureInvalid.WithDetails("test commitments do not interpolate to group commitment %d", s)
		}
		if !req.TestCommitments[self][s].Equal(n.curve.BasePoint().Mul(y[s])) {
			return nil, ErrAggregateSignatureInvalid.WithDetails("own test commitment %d was altered", s)
		}
	}

	r, err := n.curve.ScalarFromBytes(state.Nonce)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	defer r.Zeroize()
	li, err := n.curve.ScalarFromBytes(state.Li)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	R := GroupNonce(n.curve, peerKeys, req.NonceSum)
	h, err := Challenge(n.curve, R, gk[0], state.Timestamp, req.KeyID)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	si := partialSignature(n.priv, r, h, y[0], li)

	committed := &SessionState{
		Stage:     StagePreCommitted,
		KeyID:     req.KeyID,
		Peers:     state.Peers,
		Timestamp: state.Timestamp,
		Y:         scalarsToBytes(y),
		GK:        state.GK,
		NonceSum:  req.NonceSum.Bytes(),
	}
	defer committed.Zeroize()

	sealed, err := committed.seal(n.stateKey, purposeCommit)
	if err != nil {
		return nil, err
	}
	return &PreCommitResponse{PartialSignature: si, State: sealed}, nil
}

// Commit verifies the aggregate signature and persists the finalized key.
// A failed verification discards the session; the round restarts from
// GenShard. A key id that is already committed is refused with ErrKeyExists.
func (n *Node) Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.KeyID)
	defer unlock()

	resp, err := n.commit(ctx, req)
	n.finish(RoundCommit, req.KeyID, 0, start, err)
	if err != nil {
		n.cache.Delete(req.KeyID)
		return nil, err
	}
	return resp, nil
}

func (n *Node) commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	state, err := n.openCommitState(req.KeyID, req.State)
	if err != nil {
		return nil, err
	}
	defer state.Zeroize()

	if req.S == nil {
		return nil, ErrInvalidRequest.WithDetails("aggregate signature is required")
	}
	// A committed key is never replaced through Commit; password changes go
	// through CommitPrism, which requires an AuthProof.
	if _, err := n.store.Get(ctx, req.KeyID); err == nil {
		return nil, ErrKeyExists.WithContext("key_id", req.KeyID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	peerKeys, err := pointsFromBytes(n.curve, state.Peers)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	gk, err := pointsFromBytes(n.curve, state.GK)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	nonceSum, err := n.curve.PointFromBytes(state.NonceSum)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	sig := &AggregateSignature{R: GroupNonce(n.curve, peerKeys, nonceSum), S: req.S}
	if !sig.Verify(n.curve, gk[0], state.Timestamp, req.KeyID) {
		return nil, ErrAggregateSignatureInvalid.WithContext("key_id", req.KeyID)
	}

	shares, err := scalarsFromBytes(n.curve, state.Y)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	record := &UserRecord{
		KeyID:       req.KeyID,
		CVK:         append([]byte(nil), state.Y[0]...),
		Commitments: state.GK,
		Timestamp:   state.Timestamp,
	}
	if len(state.Y) > 1 {
		record.Prism = append([]byte(nil), state.Y[1]...)
	}
	if req.GPrismAuth != nil {
		auth, err := n.nodePrismAuth(req.GPrismAuth)
		if err != nil {
			return nil, err
		}
		record.PrismAuth = auth
	}
	if err := n.store.PersistFinalizedKey(ctx, record); err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	n.audit.OnKeyCommitted(NewAuditEventBuilder(AuditEventKeyCommitted).
		WithRound(RoundCommit, req.KeyID).
		WithPeers(len(peerKeys)).
		WithMetadata("secrets", len(gk)).
		Build())

	return &CommitResponse{
		Shares:      shares,
		Commitments: gk,
		Timestamp:   state.Timestamp,
	}, nil
}

// CommitPrism finalizes a single-secret PRISM round: the test point must
// equal the group commitment, and the new share replaces the stored one.
func (n *Node) CommitPrism(ctx context.Context, req *CommitPrismRequest) (*CommitPrismResponse, error) {
	start := time.Now()
	unlock := n.cache.Lock(req.KeyID)
	defer unlock()

	resp, err := n.commitPrism(ctx, req)
	n.finish(RoundCommitPrism, req.KeyID, 0, start, err)
	if err != nil {
		n.cache.Delete(req.KeyID)
		return nil, err
	}
	return resp, nil
}

func (n *Node) commitPrism(ctx context.Context, req *CommitPrismRequest) (*CommitPrismResponse, error) {
	state, err := n.openCommitState(req.KeyID, req.State)
	if err != nil {
		return nil, err
	}
	defer state.Zeroize()

	if req.TestPoint == nil {
		return nil, ErrInvalidRequest.WithDetails("test point is required")
	}
	gPrism, err := n.curve.PointFromBytes(state.GK[0])
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	if !req.TestPoint.Equal(gPrism) {
		return nil, ErrAggregateSignatureInvalid.WithDetails("test point does not match the group commitment")
	}

	record, err := n.store.Get(ctx, req.KeyID)
	if err != nil {
		return nil, err
	}
	if len(record.PrismAuth) > 0 {
		if req.Auth == nil {
			return nil, ErrInvalidToken.WithDetails("authentication proof is required")
		}
		if err := n.verifyAuthProof(req.KeyID, record.PrismAuth, req.Auth); err != nil {
			return nil, err
		}
	}

	share, err := n.curve.ScalarFromBytes(state.Y[0])
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}
	record.Prism = append([]byte(nil), state.Y[0]...)
	if req.GPrismAuth != nil {
		auth, err := n.nodePrismAuth(req.GPrismAuth)
		if err != nil {
			return nil, err
		}
		record.PrismAuth = auth
	}
	if err := n.store.PersistFinalizedKey(ctx, record); err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	n.audit.OnKeyCommitted(NewAuditEventBuilder(AuditEventPrismCommitted).
		WithRound(RoundCommitPrism, req.KeyID).
		Build())

	return &CommitPrismResponse{Share: share}, nil
}

// takeSession removes the cached state for keyID and opens it. The slot is
// gone whether or not the round then succeeds.
func (n *Node) takeSession(keyID string, stage Stage) (*SessionState, error) {
	blob, ok := n.cache.Get(keyID)
	if !ok {
		return nil, ErrSessionStateMissing.WithContext("key_id", keyID)
	}
	n.cache.Delete(keyID)

	state, err := openSessionState(n.stateKey, blob, purposeSession)
	if err != nil {
		return nil, err
	}
	if err := checkSession(state, keyID, stage); err != nil {
		state.Zeroize()
		return nil, err
	}
	return state, nil
}

func (n *Node) openCommitState(keyID string, blob []byte) (*SessionState, error) {
	if len(blob) == 0 {
		return nil, ErrSessionStateMissing.WithContext("key_id", keyID)
	}
	state, err := openSessionState(n.stateKey, blob, purposeCommit)
	if err != nil {
		return nil, err
	}
	if err := checkSession(state, keyID, StagePreCommitted); err != nil {
		state.Zeroize()
		return nil, err
	}
	if !withinWindow(state.Timestamp, n.now().UnixNano(), n.window()) {
		state.Zeroize()
		return nil, ErrExpired.WithContext("key_id", keyID)
	}
	if len(state.Y) == 0 || len(state.GK) != len(state.Y) {
		state.Zeroize()
		return nil, ErrInternal.WithDetails("commit state is incomplete")
	}
	return state, nil
}

func checkSession(state *SessionState, keyID string, stage Stage) error {
	if state.KeyID != keyID {
		return ErrKeyIDMismatch.WithDetails("state belongs to another key")
	}
	if state.Stage != stage {
		return ErrInvalidState.WithDetails("session is at %s, want %s", state.Stage, stage)
	}
	return nil
}
