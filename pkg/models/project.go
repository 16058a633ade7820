package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoreOrder is a project's comparator policy for scores.
type ScoreOrder string

const (
	// ScoreOrderDesc ranks higher values first.
	ScoreOrderDesc ScoreOrder = "desc"
	// ScoreOrderAsc ranks lower values first (time trials, golf).
	ScoreOrderAsc ScoreOrder = "asc"
)

// Valid reports whether o is a known ordering.
func (o ScoreOrder) Valid() bool {
	return o == ScoreOrderDesc || o == ScoreOrderAsc
}

// Better reports whether candidate strictly improves on current.
func (o ScoreOrder) Better(candidate, current float64) bool {
	if o == ScoreOrderAsc {
		return candidate < current
	}
	return candidate > current
}

// Project is a tenant-owned namespace for one game's scoreboard.
// It owns its API key and every score submitted under it.
type Project struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	OwnerID    string     `db:"owner_id"    json:"owner_id"`
	Name       string     `db:"name"        json:"name"`
	ScoreOrder ScoreOrder `db:"score_order" json:"score_order"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"  json:"updated_at"`
}
