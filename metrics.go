package prism

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the Prometheus namespace for node metrics
	MetricsNamespace = "prism"

	LabelRound  = "round"
	LabelStatus = "status"
	LabelKind   = "kind"

	StatusSuccess = "success"
	StatusError   = "error"

	RoundGenShard     = "genshard"
	RoundSendShard    = "sendshard"
	RoundPreCommit    = "precommit"
	RoundCommit       = "commit"
	RoundCommitPrism  = "commitprism"
	RoundApply        = "apply"
	RoundAuthenticate = "authenticate"
)

// Metrics are the per-node round instruments. A nil *Metrics records nothing.
type Metrics struct {
	RoundsTotal   *prometheus.CounterVec
	RoundDuration *prometheus.HistogramVec
	ErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Name:      "rounds_total",
				Help:      "Total number of protocol rounds by round and status",
			},
			[]string{LabelRound, LabelStatus},
		),
		RoundDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Name:      "round_duration_seconds",
				Help:      "Duration of protocol rounds in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{LabelRound},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Name:      "errors_total",
				Help:      "Total number of round failures by round and error kind",
			},
			[]string{LabelRound, LabelKind},
		),
	}
}

// ObserveRound records one finished round.
func (m *Metrics) ObserveRound(round string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RoundDuration.WithLabelValues(round).Observe(time.Since(start).Seconds())
	if err != nil {
		m.RoundsTotal.WithLabelValues(round, StatusError).Inc()
		m.ErrorsTotal.WithLabelValues(round, string(KindOf(err))).Inc()
		return
	}
	m.RoundsTotal.WithLabelValues(round, StatusSuccess).Inc()
}
