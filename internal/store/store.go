package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// Implementations must be safe for concurrent use and must apply every
// mutation atomically.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]*models.Project, error)
	// DeleteProject removes the project together with its keys and scores.
	DeleteProject(ctx context.Context, id uuid.UUID) error

	// CreateAPIKey returns ErrDuplicateKey when the project already has an
	// active key and ErrNotFound when the project does not exist.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetActiveAPIKey(ctx context.Context, projectID uuid.UUID) (*models.APIKey, error)
	GetActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	// RotateAPIKey revokes the active key and activates next in one atomic step.
	RotateAPIKey(ctx context.Context, next *models.APIKey) error
	RevokeAPIKey(ctx context.Context, projectID uuid.UUID) error
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	// UpsertBestScore stores entry if the player has no score yet or if entry
	// improves on it under order. The read-compare-write is atomic per
	// (project, username).
	UpsertBestScore(ctx context.Context, entry models.ScoreEntry, order models.ScoreOrder) (*UpsertResult, error)
	GetScore(ctx context.Context, projectID uuid.UUID, username string) (*models.ScoreEntry, error)
	// TopScores returns at most limit entries ordered by value in the given
	// direction, then submitted_at ascending, then username ascending.
	TopScores(ctx context.Context, projectID uuid.UUID, order models.ScoreOrder, limit int) ([]models.ScoreEntry, error)
	// ScoreRank returns the player's entry and 1-based position under the
	// same ordering as TopScores.
	ScoreRank(ctx context.Context, projectID uuid.UUID, username string, order models.ScoreOrder) (*models.ScoreEntry, int, error)
}

// UpsertResult reports the outcome of UpsertBestScore.
type UpsertResult struct {
	Accepted bool
	Best     models.ScoreEntry
}

func now() time.Time {
	return time.Now().UTC()
}
