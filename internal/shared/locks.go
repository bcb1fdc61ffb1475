package shared

import (
	"fmt"
	"time"
)

// SweepLockKey is the redis key guarding the expiry sweep critical section.
const SweepLockKey = "access:sweep:lock"

// NotificationClaimKey builds redis keys for a single notification day bucket.
func NotificationClaimKey(recipient, kind, targetID string, day time.Time) string {
	return fmt.Sprintf("access:notify:%s:%s:%s:%s", recipient, kind, targetID, day.UTC().Format("2006-01-02"))
}
