package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	APIKeyStatusActive  = "active"
	APIKeyStatusRevoked = "revoked"
)

// APIKey is the credential a deployed game uses to submit scores for one project.
// Raw keys are shown once at issue or rotation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	ProjectID  uuid.UUID  `db:"project_id"   json:"project_id"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	Status     string     `db:"status"       json:"status"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RotatedAt  *time.Time `db:"rotated_at"   json:"rotated_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Active reports whether the key can still authenticate submissions.
func (k *APIKey) Active() bool {
	return k.Status == APIKeyStatusActive
}
