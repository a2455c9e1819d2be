// Package metrics exposes Prometheus counters for the account flows.
//
// WHY A PRIVATE REGISTRY?
// Registering on prometheus.DefaultRegisterer panics the second time the same
// metric name is registered, which happens in every test that builds a
// server. Each Metrics value owns its registry and serves it from Handler.
//
// Every recording method is safe to call on a nil *Metrics, so components
// can take one optionally and tests can pass nil.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "identity"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the application's collectors.
type Metrics struct {
	registry *prometheus.Registry

	registrations *prometheus.CounterVec
	signIns       *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	emails        *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Account registration attempts, by result.",
		}, []string{"result"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_ins_total",
			Help:      "Sign-in attempts, by method (password, external provider) and result.",
		}, []string{"method", "result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_confirmations_total",
			Help:      "Email confirmation attempts, by result.",
		}, []string{"result"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Outgoing emails, by kind and result.",
		}, []string{"kind", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Recurring job executions, by kind and result.",
		}, []string{"kind", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected with 429 by the per-client rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registrations,
		m.signIns,
		m.confirmations,
		m.emails,
		m.jobRuns,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func (m *Metrics) Registration(ok bool) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result(ok)).Inc()
}

// SignIn records a sign-in attempt. method is "password" or a provider name.
func (m *Metrics) SignIn(method string, ok bool) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(method, result(ok)).Inc()
}

func (m *Metrics) Confirmation(ok bool) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) EmailSent(kind string, ok bool) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) JobRun(kind string, ok bool) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
