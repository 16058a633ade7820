package store

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/pkg/models"
)

const scoreLockStripes = 64

// MemoryStore keeps everything in process memory. It serves single-node
// deployments and tests. Score upserts are serialized per (project, username)
// through a striped lock so unrelated players never wait on each other.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*models.Project
	order    []uuid.UUID
	keys     []*models.APIKey
	scores   map[uuid.UUID]map[string]models.ScoreEntry

	stripes [scoreLockStripes]sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[uuid.UUID]*models.Project),
		scores:   make(map[uuid.UUID]map[string]models.ScoreEntry),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- Projects ---

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *p
	s.projects[p.ID] = &cp
	s.order = append(s.order, p.ID)
	s.scores[p.ID] = make(map[string]models.ScoreEntry)
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, ownerID string) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Project{}
	for _, id := range s.order {
		if p := s.projects[id]; p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	delete(s.scores, id)
	s.order = slices.DeleteFunc(s.order, func(v uuid.UUID) bool { return v == id })
	s.keys = slices.DeleteFunc(s.keys, func(k *models.APIKey) bool { return k.ProjectID == id })
	return nil
}

// --- API Keys ---

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[key.ProjectID]; !ok {
		return ErrNotFound
	}
	if s.activeKeyLocked(key.ProjectID) != nil {
		return ErrDuplicateKey
	}
	cp := *key
	s.keys = append(s.keys, &cp)
	return nil
}

func (s *MemoryStore) GetActiveAPIKey(_ context.Context, projectID uuid.UUID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := s.activeKeyLocked(projectID)
	if k == nil {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) GetActiveAPIKeysByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.Active() && k.KeyPrefix == prefix {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RotateAPIKey(_ context.Context, next *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.activeKeyLocked(next.ProjectID)
	if current == nil {
		return ErrNotFound
	}
	revokedAt := next.CreatedAt
	current.Status = models.APIKeyStatusRevoked
	current.RevokedAt = &revokedAt
	current.UpdatedAt = revokedAt

	cp := *next
	s.keys = append(s.keys, &cp)
	return nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.activeKeyLocked(projectID)
	if current == nil {
		return ErrNotFound
	}
	ts := now()
	current.Status = models.APIKeyStatusRevoked
	current.RevokedAt = &ts
	current.UpdatedAt = ts
	return nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.ID == id {
			ts := now()
			k.LastUsedAt = &ts
			k.UpdatedAt = ts
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) activeKeyLocked(projectID uuid.UUID) *models.APIKey {
	for _, k := range s.keys {
		if k.ProjectID == projectID && k.Active() {
			return k
		}
	}
	return nil
}

// --- Scores ---

func (s *MemoryStore) UpsertBestScore(_ context.Context, entry models.ScoreEntry, order models.ScoreOrder) (*UpsertResult, error) {
	stripe := s.stripe(entry.ProjectID, entry.Username)
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	board, ok := s.scores[entry.ProjectID]
	var current models.ScoreEntry
	var exists bool
	if ok {
		current, exists = board[entry.Username]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if exists && !order.Better(entry.Value, current.Value) {
		return &UpsertResult{Accepted: false, Best: current}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The project may have been deleted while only the stripe was held.
	board, ok = s.scores[entry.ProjectID]
	if !ok {
		return nil, ErrNotFound
	}
	board[entry.Username] = entry
	return &UpsertResult{Accepted: true, Best: entry}, nil
}

func (s *MemoryStore) GetScore(_ context.Context, projectID uuid.UUID, username string) (*models.ScoreEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.scores[projectID][username]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) TopScores(_ context.Context, projectID uuid.UUID, order models.ScoreOrder, limit int) ([]models.ScoreEntry, error) {
	s.mu.RLock()
	board := s.scores[projectID]
	entries := make([]models.ScoreEntry, 0, len(board))
	for _, e := range board {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, order.Compare)
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ScoreRank(_ context.Context, projectID uuid.UUID, username string, order models.ScoreOrder) (*models.ScoreEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board := s.scores[projectID]
	target, ok := board[username]
	if !ok {
		return nil, 0, ErrNotFound
	}
	rank := 1
	for _, e := range board {
		if order.Ahead(e, target) {
			rank++
		}
	}
	return &target, rank, nil
}

func (s *MemoryStore) stripe(projectID uuid.UUID, username string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(projectID[:])
	_, _ = h.Write([]byte(username))
	return &s.stripes[h.Sum32()%scoreLockStripes]
}
