package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func LeaderboardVersionKey(projectID uuid.UUID) string {
	return fmt.Sprintf("leaderboard:version:%s", projectID)
}

// LeaderboardViewKey addresses one cached top-N page. Including the version
// makes every accepted write invalidate all pages of the project at once.
func LeaderboardViewKey(projectID uuid.UUID, version int64, limit int) string {
	return fmt.Sprintf("leaderboard:view:%s:%d:%d", projectID, version, limit)
}
