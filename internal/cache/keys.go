package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// WatchKey holds one persisted reconciler watch.
func WatchKey(jobID uuid.UUID) string {
	return fmt.Sprintf("watch:%s", jobID)
}

// WatchIndexKey is the set of job ids with a persisted watch.
func WatchIndexKey() string {
	return "watch:index"
}

// NotificationChannel is the pub/sub channel carrying in-app events for one owner.
func NotificationChannel(ownerID uuid.UUID) string {
	return fmt.Sprintf("notifications:%s", ownerID)
}
