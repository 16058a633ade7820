// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scoreforge/scoreforge/internal/apperr"
)

const namespace = "scoreforge"

// Submission outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeNotImproved  = "not_improved"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeTimeout      = "timeout"
	OutcomeError        = "error"
)

// Metrics holds the registry and every instrument registered on it.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	requests    *prometheus.HistogramVec
	rateLimited prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_submissions_total",
			Help:      "Score submissions by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-key rate limiter.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.requests,
		m.rateLimited,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSubmission counts one submission. A nil Metrics is a no-op.
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ObserveRateLimited counts one rejected request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// SubmissionOutcome classifies the result of a submission.
func SubmissionOutcome(accepted bool, err error) string {
	if err == nil {
		if accepted {
			return OutcomeAccepted
		}
		return OutcomeNotImproved
	}
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return OutcomeInvalid
	case errors.Is(err, apperr.ErrAuthFailure):
		return OutcomeUnauthorized
	case errors.Is(err, apperr.ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
