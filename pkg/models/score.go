package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScoreEntry is the best score of one player within one project.
// (ProjectID, Username) is unique.
type ScoreEntry struct {
	ProjectID   uuid.UUID `db:"project_id"   json:"project_id"`
	Username    string    `db:"username"     json:"username"`
	Value       float64   `db:"value"        json:"value"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}

// Ahead reports whether a ranks strictly before b: value in the project's
// direction, then earliest submission, then username bytewise.
func (o ScoreOrder) Ahead(a, b ScoreEntry) bool {
	if a.Value != b.Value {
		return o.Better(a.Value, b.Value)
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return strings.Compare(a.Username, b.Username) < 0
}

// Compare is Ahead shaped for slices.SortFunc.
func (o ScoreOrder) Compare(a, b ScoreEntry) int {
	switch {
	case o.Ahead(a, b):
		return -1
	case o.Ahead(b, a):
		return 1
	default:
		return 0
	}
}
