// Package project owns the lifecycle of projects: the per-game namespaces a
// dashboard user creates and that scores and API keys belong to.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/scoreforge/scoreforge/pkg/models"
)

// CreateParams is the input to Create. Name is trimmed before validation.
type CreateParams struct {
	OwnerID    string            `json:"owner_id"    validate:"required"`
	Name       string            `json:"name"        validate:"required,max=80"`
	ScoreOrder models.ScoreOrder `json:"score_order" validate:"omitempty,oneof=desc asc"`
}

// Registry creates, lists and deletes projects.
type Registry struct {
	store    store.Store
	cache    cache.Cache
	validate *validator.Validate
}

// NewRegistry creates a Registry. The cache is used to drop cached
// leaderboard views of deleted projects and may be nil.
func NewRegistry(st store.Store, ca cache.Cache) *Registry {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Registry{store: st, cache: ca, validate: v}
}

func (r *Registry) Create(ctx context.Context, params CreateParams) (*models.Project, error) {
	params.Name = strings.TrimSpace(params.Name)
	if err := r.validate.Struct(params); err != nil {
		return nil, validationError(err)
	}
	if params.ScoreOrder == "" {
		params.ScoreOrder = models.ScoreOrderDesc
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &models.Project{
		ID:         uuid.New(),
		OwnerID:    params.OwnerID,
		Name:       params.Name,
		ScoreOrder: params.ScoreOrder,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateProject(ctx, p); err != nil {
		return nil, apperr.Translate(fmt.Errorf("create project: %w", err))
	}

	slog.InfoContext(ctx, "project created", "project_id", p.ID, "owner_id", p.OwnerID, "score_order", p.ScoreOrder)
	return p, nil
}

// List returns the owner's projects in creation order.
func (r *Registry) List(ctx context.Context, ownerID string) ([]*models.Project, error) {
	projects, err := r.store.ListProjects(ctx, ownerID)
	if err != nil {
		return nil, apperr.Translate(fmt.Errorf("list projects: %w", err))
	}
	return projects, nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	p, err := r.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project not found", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("get project: %w", err))
	}
	return p, nil
}

// GetOwned is Get restricted to the project's owner.
func (r *Registry) GetOwned(ctx context.Context, id uuid.UUID, ownerID string) (*models.Project, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: project belongs to another user", apperr.ErrForbidden)
	}
	return p, nil
}

// Delete removes the project with its key and scores in one store operation.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	if _, err := r.GetOwned(ctx, id, ownerID); err != nil {
		return err
	}
	if err := r.store.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: project not found", apperr.ErrNotFound)
		}
		return apperr.Translate(fmt.Errorf("delete project: %w", err))
	}

	// The version counter has no TTL; views under it expire on their own.
	if r.cache != nil {
		if err := r.cache.Delete(ctx, cache.LeaderboardVersionKey(id)); err != nil {
			slog.WarnContext(ctx, "failed to drop leaderboard version", "error", err, "project_id", id)
		}
	}

	slog.InfoContext(ctx, "project deleted", "project_id", id, "owner_id", ownerID)
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", apperr.ErrInvalidArgument, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", apperr.ErrInvalidArgument, fe.Field(), fe.Param())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of: %s", apperr.ErrInvalidArgument, fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Errorf("%w: %s is invalid", apperr.ErrInvalidArgument, fe.Field())
	}
}
