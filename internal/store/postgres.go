package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/scoreforge/scoreforge/pkg/models"
)

const (
	projectColumns = `id, owner_id, name, score_order, created_at, updated_at`
	apiKeyColumns  = `id, project_id, key_prefix, key_hash, status, last_used_at, rotated_at, revoked_at, created_at, updated_at`

	insertAPIKeySQL = `INSERT INTO api_keys (id, project_id, key_prefix, key_hash, status, rotated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, owner_id, name, score_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OwnerID, p.Name, string(p.ScoreOrder), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := pgxscan.Get(ctx, s.db, &p,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, ownerID string) ([]*models.Project, error) {
	var projects []*models.Project
	err := pgxscan.Select(ctx, s.db, &projects,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, nil
}

// DeleteProject relies on ON DELETE CASCADE so the key and the scores go
// away in the same statement.
func (s *PostgresStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.Exec(ctx, insertAPIKeySQL,
		key.ID, key.ProjectID, key.KeyPrefix, key.KeyHash, key.Status, key.RotatedAt, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return classifyWriteError("create api key", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveAPIKey(ctx context.Context, projectID uuid.UUID) (*models.APIKey, error) {
	var k models.APIKey
	err := pgxscan.Get(ctx, s.db, &k,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE project_id = $1 AND status = 'active'`, projectID)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active api key: %w", err)
	}
	return &k, nil
}

func (s *PostgresStore) GetActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := pgxscan.Select(ctx, s.db, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND status = 'active'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) RotateAPIKey(ctx context.Context, next *models.APIKey) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate api key: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE api_keys SET status = 'revoked', revoked_at = $2, updated_at = $2
		 WHERE project_id = $1 AND status = 'active'`, next.ProjectID, next.CreatedAt)
	if err != nil {
		return fmt.Errorf("revoke current api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, insertAPIKeySQL,
		next.ID, next.ProjectID, next.KeyPrefix, next.KeyHash, next.Status, next.RotatedAt, next.CreatedAt, next.UpdatedAt); err != nil {
		return classifyWriteError("insert rotated api key", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, projectID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET status = 'revoked', revoked_at = NOW(), updated_at = NOW()
		 WHERE project_id = $1 AND status = 'active'`, projectID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Scores ---

// UpsertBestScore inserts the first score for a player, or locks the existing
// row and replaces it only when entry improves on it. The row lock serializes
// racing submissions for the same player; other players are unaffected.
func (s *PostgresStore) UpsertBestScore(ctx context.Context, entry models.ScoreEntry, order models.ScoreOrder) (*UpsertResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert score: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO scores (project_id, username, value, submitted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, username) DO NOTHING`,
		entry.ProjectID, entry.Username, entry.Value, entry.SubmittedAt)
	if err != nil {
		return nil, classifyWriteError("insert score", err)
	}

	result := &UpsertResult{Accepted: true, Best: entry}
	if tag.RowsAffected() == 0 {
		var current models.ScoreEntry
		err := tx.QueryRow(ctx,
			`SELECT project_id, username, value, submitted_at FROM scores
			 WHERE project_id = $1 AND username = $2 FOR UPDATE`,
			entry.ProjectID, entry.Username,
		).Scan(&current.ProjectID, &current.Username, &current.Value, &current.SubmittedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock score: %w", err)
		}

		if order.Better(entry.Value, current.Value) {
			if _, err := tx.Exec(ctx,
				`UPDATE scores SET value = $3, submitted_at = $4
				 WHERE project_id = $1 AND username = $2`,
				entry.ProjectID, entry.Username, entry.Value, entry.SubmittedAt); err != nil {
				return nil, fmt.Errorf("update score: %w", err)
			}
		} else {
			result = &UpsertResult{Accepted: false, Best: current}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert score: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetScore(ctx context.Context, projectID uuid.UUID, username string) (*models.ScoreEntry, error) {
	var e models.ScoreEntry
	err := pgxscan.Get(ctx, s.db, &e,
		`SELECT project_id, username, value, submitted_at FROM scores
		 WHERE project_id = $1 AND username = $2`, projectID, username)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	return &e, nil
}

// TopScores reads the page in a single statement so it sees one snapshot.
// Usernames compare bytewise (COLLATE "C") to match ScoreOrder.Ahead.
func (s *PostgresStore) TopScores(ctx context.Context, projectID uuid.UUID, order models.ScoreOrder, limit int) ([]models.ScoreEntry, error) {
	query, args, err := squirrel.Select("project_id", "username", "value", "submitted_at").
		From("scores").
		Where("project_id = ?", projectID).
		OrderBy("value "+sqlDirection(order), "submitted_at ASC", `username COLLATE "C" ASC`).
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build top scores query: %w", err)
	}

	var entries []models.ScoreEntry
	if err := pgxscan.Select(ctx, s.db, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) ScoreRank(ctx context.Context, projectID uuid.UUID, username string, order models.ScoreOrder) (*models.ScoreEntry, int, error) {
	cmp := ">"
	if order == models.ScoreOrderAsc {
		cmp = "<"
	}
	query := fmt.Sprintf(
		`SELECT s.project_id, s.username, s.value, s.submitted_at,
		   (SELECT COUNT(*) FROM scores o
		     WHERE o.project_id = s.project_id
		       AND (o.value %s s.value
		         OR (o.value = s.value AND o.submitted_at < s.submitted_at)
		         OR (o.value = s.value AND o.submitted_at = s.submitted_at
		             AND o.username COLLATE "C" < s.username COLLATE "C"))) AS ahead
		 FROM scores s WHERE s.project_id = $1 AND s.username = $2`, cmp)

	var e models.ScoreEntry
	var ahead int64
	err := s.db.QueryRow(ctx, query, projectID, username).
		Scan(&e.ProjectID, &e.Username, &e.Value, &e.SubmittedAt, &ahead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("score rank: %w", err)
	}
	return &e, int(ahead) + 1, nil
}

func sqlDirection(order models.ScoreOrder) string {
	if order == models.ScoreOrderAsc {
		return "ASC"
	}
	return "DESC"
}

func classifyWriteError(op string, err error) error {
	switch {
	case isDuplicateKeyError(err):
		return ErrDuplicateKey
	case isForeignKeyError(err):
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyError reports a write against a project that no longer exists.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
