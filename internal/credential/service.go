// Package credential issues, rotates and verifies the per-project API keys
// that deployed games present when submitting scores.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/scoreforge/scoreforge/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// maxBackgroundTouches bounds concurrent last-used updates.
const maxBackgroundTouches = 10

// Secret is a freshly issued key. The plaintext exists only here and is
// never persisted or logged.
type Secret struct {
	Plaintext string    `json:"api_key"`
	Prefix    string    `json:"prefix"`
	ProjectID uuid.UUID `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages the API key of each project.
type Service struct {
	store     store.Store
	cost      int
	dummyHash []byte
	touches   chan struct{}
}

// NewService creates a Service hashing keys with the given bcrypt cost.
func NewService(st store.Store, cost int) (*Service, error) {
	// Compared against when a project has no key, so a miss costs the same
	// as a mismatch.
	dummy, err := bcrypt.GenerateFromPassword([]byte("scoreforge-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Service{
		store:     st,
		cost:      cost,
		dummyHash: dummy,
		touches:   make(chan struct{}, maxBackgroundTouches),
	}, nil
}

// Issue creates the project's key. Fails with ErrConflict when one is already
// active; the store's uniqueness constraint decides races.
func (s *Service) Issue(ctx context.Context, projectID uuid.UUID) (*Secret, error) {
	key, plaintext, err := s.newKey(projectID)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, fmt.Errorf("%w: project already has an active API key", apperr.ErrConflict)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: project not found", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("create api key: %w", err))
	}

	slog.InfoContext(ctx, "api key issued", "project_id", projectID, "key_prefix", key.KeyPrefix)
	return secretFor(key, plaintext), nil
}

// Rotate replaces the active key in one store transaction. The old key stops
// verifying as soon as the call returns.
func (s *Service) Rotate(ctx context.Context, projectID uuid.UUID) (*Secret, error) {
	key, plaintext, err := s.newKey(projectID)
	if err != nil {
		return nil, err
	}
	rotatedAt := key.CreatedAt
	key.RotatedAt = &rotatedAt

	if err := s.store.RotateAPIKey(ctx, key); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: project has no active API key", apperr.ErrNotFound)
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, fmt.Errorf("%w: key rotation already in progress", apperr.ErrConflict)
		}
		return nil, apperr.Translate(fmt.Errorf("rotate api key: %w", err))
	}

	slog.InfoContext(ctx, "api key rotated", "project_id", projectID, "key_prefix", key.KeyPrefix)
	return secretFor(key, plaintext), nil
}

// Revoke disables the active key without issuing a replacement.
func (s *Service) Revoke(ctx context.Context, projectID uuid.UUID) error {
	if err := s.store.RevokeAPIKey(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: project has no active API key", apperr.ErrNotFound)
		}
		return apperr.Translate(fmt.Errorf("revoke api key: %w", err))
	}
	slog.InfoContext(ctx, "api key revoked", "project_id", projectID)
	return nil
}

// Describe returns the active key's metadata. The hash is never serialized.
func (s *Service) Describe(ctx context.Context, projectID uuid.UUID) (*models.APIKey, error) {
	key, err := s.store.GetActiveAPIKey(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project has no active API key", apperr.ErrNotFound)
		}
		return nil, apperr.Translate(fmt.Errorf("get active api key: %w", err))
	}
	return key, nil
}

// Verify checks presented against the project's active key. Every failure,
// including a project without a key, is ErrAuthFailure.
func (s *Service) Verify(ctx context.Context, projectID uuid.UUID, presented string) error {
	if _, ok := parsePrefix(presented); !ok {
		return apperr.ErrAuthFailure
	}

	key, err := s.store.GetActiveAPIKey(ctx, projectID)
	if err != nil {
		s.equalize(presented)
		if errors.Is(err, store.ErrNotFound) {
			slog.DebugContext(ctx, "no active api key", "project_id", projectID)
			return apperr.ErrAuthFailure
		}
		return apperr.Translate(fmt.Errorf("get active api key: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(presented)); err != nil {
		slog.DebugContext(ctx, "api key mismatch", "project_id", projectID, "key_prefix", key.KeyPrefix)
		return apperr.ErrAuthFailure
	}

	s.touch(ctx, key.ID)
	return nil
}

// Lookup resolves which project a presented key claims to belong to, using
// only its public prefix. It does not authenticate; callers must still Verify.
func (s *Service) Lookup(ctx context.Context, presented string) (uuid.UUID, error) {
	prefix, ok := parsePrefix(presented)
	if !ok {
		return uuid.Nil, apperr.ErrAuthFailure
	}

	keys, err := s.store.GetActiveAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return uuid.Nil, apperr.Translate(fmt.Errorf("get api keys by prefix: %w", err))
	}

	switch len(keys) {
	case 0:
		s.equalize(presented)
		return uuid.Nil, apperr.ErrAuthFailure
	case 1:
		return keys[0].ProjectID, nil
	}

	// Prefix collision across projects: only the hash can tell them apart.
	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(presented)) == nil {
			return k.ProjectID, nil
		}
	}
	return uuid.Nil, apperr.ErrAuthFailure
}

func (s *Service) newKey(projectID uuid.UUID) (*models.APIKey, string, error) {
	plaintext, prefix, err := generateKey()
	if err != nil {
		return nil, "", apperr.Translate(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		return nil, "", apperr.Translate(fmt.Errorf("hash api key: %w", err))
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		ProjectID: projectID,
		KeyPrefix: prefix,
		KeyHash:   string(hash),
		Status:    models.APIKeyStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, plaintext, nil
}

func (s *Service) equalize(presented string) {
	//nolint:errcheck // result is irrelevant, only the time spent matters
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(presented))
}

// touch records key usage in the background. Under load the update is
// skipped rather than queued.
func (s *Service) touch(ctx context.Context, keyID uuid.UUID) {
	select {
	case s.touches <- struct{}{}:
		go func() {
			defer func() { <-s.touches }()
			bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := s.store.UpdateAPIKeyLastUsed(bgCtx, keyID); err != nil {
				slog.WarnContext(bgCtx, "failed to update api key last used", "error", err, "key_id", keyID)
			}
		}()
	default:
		slog.DebugContext(ctx, "skipping api key last used update under load", "key_id", keyID)
	}
}

func secretFor(key *models.APIKey, plaintext string) *Secret {
	return &Secret{
		Plaintext: plaintext,
		Prefix:    key.KeyPrefix,
		ProjectID: key.ProjectID,
		CreatedAt: key.CreatedAt,
	}
}
