package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cis/internal/trust"
)

// Metrics provides observability for the trust gate.
type Metrics struct {
	// Submission outcomes by condition and result kind
	Decisions *prometheus.CounterVec

	// Rejections treated as security events, by publisher
	SecurityEvents *prometheus.CounterVec

	// End-to-end accept latency
	AcceptLatency prometheus.Histogram

	// Per-attribute signature verification latency
	VerifyLatency prometheus.Histogram
}

// New registers the trust metrics with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cis_trust_decisions_total",
			Help: "Profile submissions judged by the trust gate, by condition and outcome",
		}, []string{"condition", "outcome"}), // outcome: "accepted" or a failure kind

		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cis_trust_security_events_total",
			Help: "Signature rejections by claimed publisher",
		}, []string{"publisher"}),

		AcceptLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cis_trust_accept_duration_seconds",
			Help:    "Duration of a full trust gate evaluation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cis_trust_verify_duration_seconds",
			Help:    "Duration of a single attribute signature verification",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),
	}
}

// ObserveDecision records one gate outcome. err nil means accepted.
func (m *Metrics) ObserveDecision(cond trust.Condition, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = string(trust.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.Decisions.WithLabelValues(string(cond), outcome).Inc()
	m.AcceptLatency.Observe(d.Seconds())
}

// IncrementSecurityEvent counts a signature rejection.
func (m *Metrics) IncrementSecurityEvent(publisher string) {
	if m != nil {
		m.SecurityEvents.WithLabelValues(publisher).Inc()
	}
}

// ObserveVerify records one attribute verification.
func (m *Metrics) ObserveVerify(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
