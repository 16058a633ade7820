// Package ranking produces ordered leaderboard views of a project's scores.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/scoreforge/scoreforge/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Entry is one leaderboard row.
type Entry struct {
	Username string  `json:"username"`
	Value    float64 `json:"value"`
}

// Standing is a single player's position on the leaderboard.
type Standing struct {
	Username string  `json:"username"`
	Value    float64 `json:"value"`
	Rank     int     `json:"rank"`
}

// Options tunes an Engine.
type Options struct {
	MaxLimit int
	// CacheTTL bounds how long a view may be served after the write that
	// made it stale, should the version bump be lost. Zero disables caching.
	CacheTTL time.Duration
	// LoadTimeout bounds a store read shared by concurrent callers.
	LoadTimeout time.Duration
}

// Engine answers top-N and rank queries.
type Engine struct {
	store  store.Store
	cache  cache.Cache
	opts   Options
	flight singleflight.Group
}

const (
	// DefaultMaxLimit caps TopN when Options.MaxLimit is unset.
	DefaultMaxLimit = 100
	// DefaultLoadTimeout applies when Options.LoadTimeout is unset.
	DefaultLoadTimeout = 5 * time.Second
)

// NewEngine creates an Engine. The cache may be nil.
func NewEngine(st store.Store, ca cache.Cache, opts Options) *Engine {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Engine{store: st, cache: ca, opts: opts}
}

// TopN returns up to limit entries ordered by value in the project's
// direction, then earliest submission, then username. limit must be positive
// and is clamped to MaxLimit.
func (e *Engine) TopN(ctx context.Context, projectID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrInvalidArgument)
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}

	project, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	key, cacheable := e.viewKey(ctx, projectID, limit)
	if cacheable {
		if entries, ok := e.cached(ctx, key); ok {
			return entries, nil
		}
	} else {
		key = fmt.Sprintf("uncached:%s:%d", projectID, limit)
	}

	// The shared load outlives any single caller: one reader going away must
	// not fail the others waiting on the same key.
	ch := e.flight.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.LoadTimeout)
		defer cancel()

		entries, err := e.load(loadCtx, project, limit)
		if err != nil {
			return nil, err
		}
		if cacheable {
			e.remember(loadCtx, key, entries)
		}
		return entries, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]Entry)), nil
	case <-ctx.Done():
		return nil, apperr.Translate(fmt.Errorf("top scores: %w", ctx.Err()))
	}
}

// Rank returns the player's 1-based position under the same order as TopN.
func (e *Engine) Rank(ctx context.Context, projectID uuid.UUID, username string) (*Standing, error) {
	project, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	entry, rank, err := e.store.ScoreRank(ctx, projectID, strings.TrimSpace(username), project.ScoreOrder)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no score for player", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("score rank: %w", err))
	}
	return &Standing{Username: entry.Username, Value: entry.Value, Rank: rank}, nil
}

func (e *Engine) project(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project not found", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("get project: %w", err))
	}
	return p, nil
}

func (e *Engine) load(ctx context.Context, project *models.Project, limit int) ([]Entry, error) {
	rows, err := e.store.TopScores(ctx, project.ID, project.ScoreOrder, limit)
	if err != nil {
		return nil, apperr.Translate(fmt.Errorf("top scores: %w", err))
	}

	// Stores already order rows; re-sorting pins identical output for every
	// backend.
	slices.SortStableFunc(rows, project.ScoreOrder.Compare)

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{Username: r.Username, Value: r.Value})
	}
	return entries, nil
}

// viewKey resolves the cache key for the project's current generation.
// Cache errors disable caching for this call rather than failing it.
func (e *Engine) viewKey(ctx context.Context, projectID uuid.UUID, limit int) (string, bool) {
	if e.cache == nil || e.opts.CacheTTL <= 0 {
		return "", false
	}
	version, err := e.cache.LeaderboardVersion(ctx, projectID)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard cache unavailable", "error", err, "project_id", projectID)
		return "", false
	}
	return cache.LeaderboardViewKey(projectID, version, limit), true
}

func (e *Engine) cached(ctx context.Context, key string) ([]Entry, bool) {
	raw, found, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard cache read failed", "error", err, "key", key)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.WarnContext(ctx, "discarding corrupt leaderboard cache entry", "error", err, "key", key)
		return nil, false
	}
	return entries, true
}

func (e *Engine) remember(ctx context.Context, key string, entries []Entry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.opts.CacheTTL); err != nil {
		slog.WarnContext(ctx, "leaderboard cache write failed", "error", err, "key", key)
	}
}
