package httpnode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prismdkg/prism"
)

const maxBodyBytes = 1 << 20

// Config holds the HTTP server configuration.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string `mapstructure:"addr"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// RequestsPerMinute per uid or key id; zero disables throttling.
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	ThrottleIdle      time.Duration `mapstructure:"throttle_idle"`
}

// DefaultConfig returns the server defaults
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerMinute: 60,
		Burst:             20,
		ThrottleIdle:      30 * time.Minute,
	}
}

// Server exposes a prism.NodeAPI over HTTP.
type Server struct {
	node     prism.NodeAPI
	nodeID   string
	curve    prism.Curve
	cfg      Config
	server   *http.Server
	throttle *throttle
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// Option customizes a Server
type Option func(*Server)

// WithGatherer serves gatherer on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithNodeID reports id on /healthz.
func WithNodeID(id string) Option {
	return func(s *Server) { s.nodeID = id }
}

// NewServer creates a server for node. Zero config durations take defaults.
func NewServer(node prism.NodeAPI, cfg Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("node is required")
	}

	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ThrottleIdle == 0 {
		cfg.ThrottleIdle = def.ThrottleIdle
	}

	s := &Server{
		node:     node,
		curve:    prism.NewEd25519Curve(),
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.With().Str("component", "httpnode").Logger(),
	}
	if cfg.RequestsPerMinute > 0 {
		s.throttle = newThrottle(cfg.RequestsPerMinute, cfg.Burst, cfg.ThrottleIdle)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/keys/{keyID}", func(r chi.Router) {
			r.Use(s.throttleBy("keyID"))
			r.Post("/genshard", s.handleGenShard)
			r.Post("/sendshard", s.handleSendShard)
			r.Post("/precommit", s.handlePreCommit)
			r.Post("/commit", s.handleCommit)
			r.Post("/commitprism", s.handleCommitPrism)
		})
		r.Route("/prism/{uid}", func(r chi.Router) {
			r.Use(s.throttleBy("uid"))
			r.Post("/apply", s.handleApply)
			r.Post("/authenticate", s.handleAuthenticate)
		})
	})
	return r
}

// Start serves until Stop is called. Idle throttle buckets are pruned while
// ctx is live.
func (s *Server) Start(ctx context.Context) error {
	if s.throttle != nil {
		go s.pruneThrottle(ctx)
	}
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) pruneThrottle(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ThrottleIdle / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.throttle.cleanup(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("pruned idle throttle buckets")
			}
		}
	}
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("panic recovered")
				writeError(w, s.logger, prism.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request completed")
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, s.logger, prism.ErrInvalidRequest.WithDetails("malformed body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, healthResponse{Status: "ok", NodeID: s.nodeID}, http.StatusOK)
}

func (s *Server) handleGenShard(w http.ResponseWriter, r *http.Request) {
	var req genShardRequest
	if !s.decode(w, r, &req) {
		return
	}
	peers, err := decodePoints(s.curve, req.Peers)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	multipliers, err := decodePoints(s.curve, req.Multipliers)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.GenShard(r.Context(), &prism.GenShardRequest{
		KeyID:       chi.URLParam(r, "keyID"),
		Peers:       peers,
		NumSecrets:  req.NumSecrets,
		Multipliers: multipliers,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, genShardResponse{
		Bundles:     resp.Bundles,
		Commitments: encodePoints(resp.Commitments),
		Multiplied:  encodePoints(resp.Multiplied),
		Timestamp:   resp.Timestamp,
	}, http.StatusOK)
}

func (s *Server) handleSendShard(w http.ResponseWriter, r *http.Request) {
	var req sendShardRequest
	if !s.decode(w, r, &req) {
		return
	}
	multipliers, err := decodePoints(s.curve, req.Multipliers)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.SendShard(r.Context(), &prism.SendShardRequest{
		KeyID:       chi.URLParam(r, "keyID"),
		Bundles:     req.Bundles,
		Multipliers: multipliers,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, sendShardResponse{
		TestCommitments: encodePoints(resp.TestCommitments),
		NonceCommitment: encodePoint(resp.NonceCommitment),
		Multiplied:      encodePoints(resp.Multiplied),
		State:           resp.State,
	}, http.StatusOK)
}

func (s *Server) handlePreCommit(w http.ResponseWriter, r *http.Request) {
	var req preCommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	tests := make([][]prism.Point, len(req.TestCommitments))
	for j, row := range req.TestCommitments {
		points, err := decodePoints(s.curve, row)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		tests[j] = points
	}
	nonceSum, err := decodePoint(s.curve, req.NonceSum)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.PreCommit(r.Context(), &prism.PreCommitRequest{
		KeyID:           chi.URLParam(r, "keyID"),
		TestCommitments: tests,
		NonceSum:        nonceSum,
		State:           req.State,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, preCommitResponse{
		PartialSignature: resp.PartialSignature.Bytes(),
		State:            resp.State,
	}, http.StatusOK)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !s.decode(w, r, &req) {
		return
	}
	sig, err := decodeScalar(s.curve, req.S)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	gPrismAuth, err := decodePoint(s.curve, req.GPrismAuth)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.Commit(r.Context(), &prism.CommitRequest{
		KeyID:      chi.URLParam(r, "keyID"),
		S:          sig,
		State:      req.State,
		GPrismAuth: gPrismAuth,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	prism.ZeroizeScalarSlice(resp.Shares)
	writeJSON(w, s.logger, commitResponse{
		Commitments: encodePoints(resp.Commitments),
		Timestamp:   resp.Timestamp,
	}, http.StatusOK)
}

func (s *Server) handleCommitPrism(w http.ResponseWriter, r *http.Request) {
	var req commitPrismRequest
	if !s.decode(w, r, &req) {
		return
	}
	testPoint, err := decodePoint(s.curve, req.TestPoint)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	gPrismAuth, err := decodePoint(s.curve, req.GPrismAuth)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.CommitPrism(r.Context(), &prism.CommitPrismRequest{
		KeyID:      chi.URLParam(r, "keyID"),
		TestPoint:  testPoint,
		State:      req.State,
		GPrismAuth: gPrismAuth,
		Auth:       toAuthProof(req.Auth),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp.Share.Zeroize()
	writeJSON(w, s.logger, commitPrismResponse{Committed: true}, http.StatusOK)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !s.decode(w, r, &req) {
		return
	}
	blinded, err := decodePoint(s.curve, req.BlindedPoint)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp, err := s.node.Apply(r.Context(), &prism.ApplyRequest{
		UID:          chi.URLParam(r, "uid"),
		BlindedPoint: blinded,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, applyResponse{
		Applied:     encodePoint(resp.Applied),
		EncCertTime: resp.EncCertTime,
	}, http.StatusOK)
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.node.Authenticate(r.Context(), &prism.AuthenticateRequest{
		UID:      chi.URLParam(r, "uid"),
		Auth:     *toAuthProof(&req.Auth),
		AuthData: req.AuthData,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, authenticateResponse{EncryptedCVK: resp.EncryptedCVK}, http.StatusOK)
}
