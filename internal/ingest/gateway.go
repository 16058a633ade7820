// Package ingest is the entry point for score submissions from deployed
// games. It authenticates the presented API key and hands the score to the
// ledger under a request deadline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/ledger"
	"github.com/scoreforge/scoreforge/internal/metrics"
	"github.com/scoreforge/scoreforge/pkg/models"
)

// DefaultTimeout applies when the gateway is built without one.
const DefaultTimeout = 5 * time.Second

// Projects resolves the project a submission targets.
type Projects interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// Credentials authenticates presented API keys.
type Credentials interface {
	Verify(ctx context.Context, projectID uuid.UUID, presented string) error
	Lookup(ctx context.Context, presented string) (uuid.UUID, error)
}

// Ledger records scores.
type Ledger interface {
	Submit(ctx context.Context, project *models.Project, username string, value float64) (*ledger.Result, error)
}

// Gateway wires authentication to the ledger.
type Gateway struct {
	projects    Projects
	credentials Credentials
	ledger      Ledger
	metrics     *metrics.Metrics
	timeout     time.Duration
}

// New creates a Gateway. m may be nil.
func New(p Projects, c Credentials, l Ledger, m *metrics.Metrics, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{projects: p, credentials: c, ledger: l, metrics: m, timeout: timeout}
}

// HandleSubmit authenticates presentedKey against projectID and submits the
// score. An unknown project is reported as ErrAuthFailure so callers cannot
// probe which project ids exist.
func (g *Gateway) HandleSubmit(ctx context.Context, projectID uuid.UUID, presentedKey, username string, value float64) (res *ledger.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	defer func() { g.observe(ctx, projectID, res, err) }()

	return g.submit(ctx, projectID, presentedKey, username, value)
}

// HandleSubmitByKey resolves the project from the key's public prefix, then
// follows the same path as HandleSubmit.
func (g *Gateway) HandleSubmitByKey(ctx context.Context, presentedKey, username string, value float64) (res *ledger.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	projectID := uuid.Nil
	defer func() { g.observe(ctx, projectID, res, err) }()

	projectID, err = g.credentials.Lookup(ctx, presentedKey)
	if err != nil {
		return nil, g.classify(err)
	}
	return g.submit(ctx, projectID, presentedKey, username, value)
}

func (g *Gateway) submit(ctx context.Context, projectID uuid.UUID, presentedKey, username string, value float64) (*ledger.Result, error) {
	project, err := g.projects.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			slog.InfoContext(ctx, "score submitted for unknown project", "project_id", projectID)
			return nil, fmt.Errorf("%w: invalid API key", apperr.ErrAuthFailure)
		}
		return nil, g.classify(err)
	}

	if err := g.credentials.Verify(ctx, project.ID, presentedKey); err != nil {
		if errors.Is(err, apperr.ErrAuthFailure) {
			return nil, fmt.Errorf("%w: invalid API key", apperr.ErrAuthFailure)
		}
		return nil, g.classify(err)
	}

	res, err := g.ledger.Submit(ctx, project, username, value)
	if err != nil {
		return nil, g.classify(err)
	}
	return res, nil
}

// classify turns a deadline hit anywhere below into ErrTimeout and anything
// unclassified into ErrInternal.
func (g *Gateway) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	return apperr.Translate(err)
}

func (g *Gateway) observe(ctx context.Context, projectID uuid.UUID, res *ledger.Result, err error) {
	accepted := res != nil && res.Accepted
	g.metrics.ObserveSubmission(metrics.SubmissionOutcome(accepted, err))

	switch kind := apperr.Kind(err); kind {
	case nil:
	case apperr.ErrInternal, apperr.ErrTimeout:
		slog.ErrorContext(ctx, "score submission failed", "error", err, "project_id", projectID)
	default:
		slog.DebugContext(ctx, "score submission rejected", "error", err, "project_id", projectID)
	}
}
