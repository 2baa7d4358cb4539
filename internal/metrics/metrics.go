package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes
const (
	OutcomeAdmit  = "admit"
	OutcomeReject = "reject"
)

// Metrics holds the admission-layer collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	lockouts  prometheus.Counter
	failOpen  prometheus.Counter
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_admission_decisions_total",
			Help: "Admission decisions by outcome and internal reason",
		}, []string{"outcome", "reason"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_ratelimit_fallback_total",
			Help: "Rate limit checks served by the in-memory fallback after a durable store error",
		}, []string{"rule"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bastion_lockouts_total",
			Help: "Accounts locked after repeated authentication failures",
		}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bastion_dos_fail_open_total",
			Help: "Requests admitted because the DoS gate hit an internal error",
		}),
	}

	m.registry.MustRegister(m.decisions, m.fallbacks, m.lockouts, m.failOpen)
	return m
}

// Decision counts one admission decision
func (m *Metrics) Decision(outcome, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

// Fallback counts a rate limit check degraded to the in-memory store
func (m *Metrics) Fallback(rule string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(rule).Inc()
}

// Lockout counts an account lock
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// FailOpen counts a request admitted on an internal gate error
func (m *Metrics) FailOpen() {
	if m == nil {
		return
	}
	m.failOpen.Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
