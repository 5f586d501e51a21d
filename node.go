package prism

import (
	"time"

	"github.com/rs/zerolog"
)

// NodeOptions configures a Node. Zero values select defaults.
type NodeOptions struct {
	Config  NodeConfig
	Cache   SessionCache
	Store   KeyStore
	Logger  zerolog.Logger
	Audit   AuditEventHandler
	Metrics *Metrics
	// Clock returns the current time; it drives every freshness check.
	Clock func() time.Time
}

// Node runs the server side of the protocol for one static key pair.
type Node struct {
	curve    Curve
	sss      *ShamirSecretSharing
	priv     Scalar
	pub      Point
	id       Scalar
	stateKey []byte
	certKey  []byte

	cfg     NodeConfig
	cache   SessionCache
	store   KeyStore
	logger  zerolog.Logger
	audit   AuditEventHandler
	metrics *Metrics
	now     func() time.Time
}

// GenerateNodeKey returns a fresh static private scalar.
func GenerateNodeKey() (Scalar, error) {
	return NewEd25519Curve().ScalarRandom()
}

// NewNode creates a node for the static private scalar priv.
func NewNode(priv Scalar, opts NodeOptions) (*Node, error) {
	curve := NewEd25519Curve()
	if priv == nil || priv.IsZero() {
		return nil, ErrInvalidRequest.WithDetails("node private key is zero")
	}

	cfg := opts.Config
	if cfg == (NodeConfig{}) {
		cfg = DefaultNodeConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	pub := curve.BasePoint().Mul(priv)
	id, err := ParticipantID(curve, pub)
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	n := &Node{
		curve:    curve,
		sss:      NewShamirSecretSharing(curve),
		priv:     priv,
		pub:      pub,
		id:       id,
		stateKey: StateKey(priv),
		certKey:  CertTimeKey(priv),
		cfg:      cfg,
		cache:    opts.Cache,
		store:    opts.Store,
		logger:   opts.Logger.With().Str("component", "node").Str("node_id", id.String()[:16]).Logger(),
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		now:      now,
	}
	if n.cache == nil {
		n.cache = NewMemorySessionCache(cfg.FreshnessWindow, now, opts.Logger)
	}
	if n.store == nil {
		n.store = NewMemoryKeyStore()
	}
	if n.audit == nil {
		n.audit = &NullAuditHandler{}
	}
	return n, nil
}

// PublicKey returns G·priv
func (n *Node) PublicKey() Point { return n.pub }

// ID returns the node's participant id
func (n *Node) ID() Scalar { return n.id }

// Config returns the node's protocol parameters
func (n *Node) Config() NodeConfig { return n.cfg }


func (n *Node) window() int64 { return int64(n.cfg.FreshnessWindow) }

// finish logs, audits and measures one round.
func (n *Node) finish(round, keyID string, peers int, start time.Time, err error) {
	n.metrics.ObserveRound(round, start, err)

	event := NewAuditEventBuilder(AuditEventRoundCompleted).
		WithRound(round, keyID).
		WithPeers(peers).
		WithError(err).
		Build()
	n.audit.OnRound(event)

	if err != nil {
		n.logger.Warn().Err(err).
			Str("round", round).
			Str("key_id", keyID).
			Str("kind", string(KindOf(err))).
			Msg("round failed")
		return
	}
	n.logger.Debug().
		Str("round", round).
		Str("key_id", keyID).
		Dur("took", time.Since(start)).
		Msg("round completed")
}
