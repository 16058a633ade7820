// Package ledger records each player's best score per project.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/scoreforge/scoreforge/pkg/models"
)

// Limits bounds what a submission may contain.
type Limits struct {
	UsernameMaxLen int
	MinValue       float64
	MaxValue       float64
}

// DefaultLimits matches the service's shipped configuration.
var DefaultLimits = Limits{UsernameMaxLen: 50, MinValue: -1e12, MaxValue: 1e12}

// Result is the outcome of a submission. CurrentBest is the stored best after
// the call, which is the submitted value only when Accepted is true.
type Result struct {
	Accepted    bool    `json:"accepted"`
	CurrentBest float64 `json:"current_best"`
}

// Ledger applies best-score-wins upserts.
type Ledger struct {
	store  store.Store
	cache  cache.Cache
	limits Limits
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. The cache receives leaderboard invalidations and may
// be nil.
func New(st store.Store, ca cache.Cache, limits Limits, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		cache:  ca,
		limits: limits,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit stores value as the player's best if it improves on the current
// one under the project's order. Nothing is written when validation fails.
func (l *Ledger) Submit(ctx context.Context, project *models.Project, username string, value float64) (*Result, error) {
	username, err := l.validate(username, value)
	if err != nil {
		return nil, err
	}

	entry := models.ScoreEntry{
		ProjectID: project.ID,
		Username:  username,
		Value:     value,
		// Postgres keeps microseconds; truncating keeps tie-breaks identical
		// across backends.
		SubmittedAt: l.now().Truncate(time.Microsecond),
	}

	res, err := l.store.UpsertBestScore(ctx, entry, project.ScoreOrder)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project not found", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("upsert score: %w", err))
	}

	if res.Accepted {
		l.invalidate(ctx, project)
	}

	return &Result{Accepted: res.Accepted, CurrentBest: res.Best.Value}, nil
}

// Best returns the player's stored best.
func (l *Ledger) Best(ctx context.Context, projectID uuid.UUID, username string) (*models.ScoreEntry, error) {
	e, err := l.store.GetScore(ctx, projectID, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no score for player", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("get score: %w", err))
	}
	return e, nil
}

func (l *Ledger) validate(username string, value float64) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", apperr.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(username) > l.limits.UsernameMaxLen {
		return "", fmt.Errorf("%w: username must be at most %d characters", apperr.ErrInvalidArgument, l.limits.UsernameMaxLen)
	}
	if !utf8.ValidString(username) || strings.IndexFunc(username, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: username contains invalid characters", apperr.ErrInvalidArgument)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("%w: value must be a finite number", apperr.ErrInvalidArgument)
	}
	if value < l.limits.MinValue || value > l.limits.MaxValue {
		return "", fmt.Errorf("%w: value must be between %g and %g", apperr.ErrInvalidArgument, l.limits.MinValue, l.limits.MaxValue)
	}
	return username, nil
}

// invalidate moves the project to a new leaderboard generation. A failure
// only delays visibility until cached views expire.
func (l *Ledger) invalidate(ctx context.Context, project *models.Project) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.BumpLeaderboardVersion(ctx, project.ID); err != nil {
		slog.WarnContext(ctx, "failed to bump leaderboard version", "error", err, "project_id", project.ID)
	}
}
