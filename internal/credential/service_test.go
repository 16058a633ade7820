package credential_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scoreforge/scoreforge/internal/apperr"
	"github.com/scoreforge/scoreforge/internal/credential"
	"github.com/scoreforge/scoreforge/internal/store"
	"github.com/scoreforge/scoreforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setup(t *testing.T) (*credential.Service, *store.MemoryStore, uuid.UUID) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	p := &models.Project{ID: uuid.New(), OwnerID: "owner-1", Name: "Space Race", ScoreOrder: models.ScoreOrderDesc, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateProject(context.Background(), p))

	svc, err := credential.NewService(st, bcrypt.MinCost)
	require.NoError(t, err)
	return svc, st, p.ID
}

func TestNewService_InvalidCost(t *testing.T) {
	_, err := credential.NewService(store.NewMemoryStore(), bcrypt.MaxCost+1)
	assert.Error(t, err)
}

func TestIssue(t *testing.T) {
	svc, st, projectID := setup(t)
	ctx := context.Background()

	secret, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, projectID, secret.ProjectID)
	assert.True(t, strings.HasPrefix(secret.Plaintext, secret.Prefix+"_"))
	assert.Len(t, secret.Prefix, 11)
	assert.Len(t, secret.Plaintext, 52)

	stored, err := st.GetActiveAPIKey(ctx, projectID)
	require.NoError(t, err)
	assert.NotEqual(t, secret.Plaintext, stored.KeyHash, "plaintext must not be stored")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(secret.Plaintext)))

	t.Run("second issue conflicts", func(t *testing.T) {
		_, err := svc.Issue(ctx, projectID)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := svc.Issue(ctx, uuid.New())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestIssue_ConcurrentOnlyOneWins(t *testing.T) {
	svc, _, projectID := setup(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(ctx, projectID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, apperr.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestVerify(t *testing.T) {
	svc, _, projectID := setup(t)
	ctx := context.Background()

	secret, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)

	assert.NoError(t, svc.Verify(ctx, projectID, secret.Plaintext))

	tampered := secret.Plaintext[:len(secret.Plaintext)-1] + flip(secret.Plaintext[len(secret.Plaintext)-1])
	assert.ErrorIs(t, svc.Verify(ctx, projectID, tampered), apperr.ErrAuthFailure)
	assert.ErrorIs(t, svc.Verify(ctx, projectID, ""), apperr.ErrAuthFailure)
	assert.ErrorIs(t, svc.Verify(ctx, projectID, "not-a-key"), apperr.ErrAuthFailure)
	assert.ErrorIs(t, svc.Verify(ctx, uuid.New(), secret.Plaintext), apperr.ErrAuthFailure)
}

func TestVerify_UpdatesLastUsed(t *testing.T) {
	svc, st, projectID := setup(t)
	ctx := context.Background()

	secret, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, projectID, secret.Plaintext))

	assert.Eventually(t, func() bool {
		k, err := st.GetActiveAPIKey(ctx, projectID)
		return err == nil && k.LastUsedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRotate(t *testing.T) {
	svc, _, projectID := setup(t)
	ctx := context.Background()

	_, err := svc.Rotate(ctx, projectID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "nothing to rotate yet")

	old, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)

	fresh, err := svc.Rotate(ctx, projectID)
	require.NoError(t, err)
	assert.NotEqual(t, old.Plaintext, fresh.Plaintext)

	assert.ErrorIs(t, svc.Verify(ctx, projectID, old.Plaintext), apperr.ErrAuthFailure)
	assert.NoError(t, svc.Verify(ctx, projectID, fresh.Plaintext))

	meta, err := svc.Describe(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, fresh.Prefix, meta.KeyPrefix)
	assert.NotNil(t, meta.RotatedAt)
}

func TestRevoke(t *testing.T) {
	svc, _, projectID := setup(t)
	ctx := context.Background()

	secret, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, projectID))
	assert.ErrorIs(t, svc.Verify(ctx, projectID, secret.Plaintext), apperr.ErrAuthFailure)
	assert.ErrorIs(t, svc.Revoke(ctx, projectID), apperr.ErrNotFound)

	_, err = svc.Describe(ctx, projectID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Issue(ctx, projectID)
	assert.NoError(t, err, "a new key can be issued after revocation")
}

func TestLookup(t *testing.T) {
	svc, _, projectID := setup(t)
	ctx := context.Background()

	secret, err := svc.Issue(ctx, projectID)
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, secret.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, projectID, got)

	_, err = svc.Lookup(ctx, "sf_zzzzzzzz_"+strings.Repeat("a", 40))
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	_, err = svc.Lookup(ctx, "garbage")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
}

func flip(c byte) string {
	if c == 'a' {
		return "b"
	}
	return "a"
}
