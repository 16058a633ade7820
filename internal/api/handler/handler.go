// Package handler holds the HTTP handlers. Each constructor takes the narrow
// service interface it needs and returns an http.HandlerFunc.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/credential"
	"github.com/scoreforge/scoreforge/internal/ledger"
	"github.com/scoreforge/scoreforge/internal/project"
	"github.com/scoreforge/scoreforge/internal/ranking"
	"github.com/scoreforge/scoreforge/pkg/models"
)

const maxBodyBytes = 64 << 10

// Projects is the project registry as seen by the dashboard routes.
type Projects interface {
	Create(ctx context.Context, params project.CreateParams) (*models.Project, error)
	List(ctx context.Context, ownerID string) ([]*models.Project, error)
	GetOwned(ctx context.Context, id uuid.UUID, ownerID string) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
}

// Keys manages a project's API key.
type Keys interface {
	Issue(ctx context.Context, projectID uuid.UUID) (*credential.Secret, error)
	Rotate(ctx context.Context, projectID uuid.UUID) (*credential.Secret, error)
	Revoke(ctx context.Context, projectID uuid.UUID) error
	Describe(ctx context.Context, projectID uuid.UUID) (*models.APIKey, error)
}

// Submitter ingests scores from game clients.
type Submitter interface {
	HandleSubmit(ctx context.Context, projectID uuid.UUID, presentedKey, username string, value float64) (*ledger.Result, error)
	HandleSubmitByKey(ctx context.Context, presentedKey, username string, value float64) (*ledger.Result, error)
}

// Scores reads stored score records for the dashboard.
type Scores interface {
	Best(ctx context.Context, projectID uuid.UUID, username string) (*models.ScoreEntry, error)
}

// Leaderboard answers public ranking queries.
type Leaderboard interface {
	TopN(ctx context.Context, projectID uuid.UUID, limit int) ([]ranking.Entry, error)
	Rank(ctx context.Context, projectID uuid.UUID, username string) (*ranking.Standing, error)
}

// decodeJSON reads a single JSON object from the body. Unknown fields are
// rejected so typos surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", apperr.ErrInvalidArgument)
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body too large", apperr.ErrInvalidArgument)
		default:
			return fmt.Errorf("%w: invalid JSON body", apperr.ErrInvalidArgument)
		}
	}
	return nil
}

func projectIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid project id", apperr.ErrInvalidArgument)
	}
	return id, nil
}
