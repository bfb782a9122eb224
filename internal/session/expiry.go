package session

import (
	"time"

	"session-service/internal/models"
)

// ExpiringSoon reports whether the session is within softWindow of its hard
// cutoff. Advisory only: used for client warnings and logging, never to deny
// access. Requires softWindow < hardWindow, enforced at config load.
func ExpiringSoon(session *models.Session, now time.Time, softWindow, hardWindow time.Duration) bool {
	return now.Sub(session.LastAccessed) > hardWindow-softWindow
}

// HardExpired reports whether the session is past its absolute idle cutoff.
// A hard-expired session denies access even if is_active has not been
// flipped yet: expiry is computed on read, not left to the sweep.
func HardExpired(session *models.Session, now time.Time, hardWindow time.Duration) bool {
	return now.Sub(session.LastAccessed) >= hardWindow
}
