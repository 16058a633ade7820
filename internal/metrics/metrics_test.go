package metrics_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionOutcome(t *testing.T) {
	tests := []struct {
		accepted bool
		err      error
		want     string
	}{
		{true, nil, metrics.OutcomeAccepted},
		{false, nil, metrics.OutcomeNotImproved},
		{false, fmt.Errorf("%w: username is required", apperr.ErrInvalidArgument), metrics.OutcomeInvalid},
		{false, apperr.ErrAuthFailure, metrics.OutcomeUnauthorized},
		{false, apperr.Translate(fmt.Errorf("upsert: %w", errors.New("boom"))), metrics.OutcomeError},
		{false, apperr.ErrTimeout, metrics.OutcomeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, metrics.SubmissionOutcome(tt.accepted, tt.err))
		})
	}
}

func TestHandlerExposesInstruments(t *testing.T) {
	m := metrics.New()
	m.ObserveSubmission(metrics.OutcomeAccepted)
	m.ObserveSubmission(metrics.OutcomeAccepted)
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 15*time.Millisecond)
	m.ObserveRateLimited()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `scoreforge_score_submissions_total{outcome="accepted"} 2`)
	assert.Contains(t, body, `scoreforge_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "scoreforge_rate_limited_requests_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmission(metrics.OutcomeAccepted)
		m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Second)
		m.ObserveRateLimited()
	})
}
