package push

import (
	"time"
)

const (
	// registrations idle longer than this are discarded by cleanup sweeps
	registrationExpiry = 30 * 24 * time.Hour

	// clock-skew guard against registrations claiming a future timestamp
	registrationSkewLimit = 24 * time.Hour
)

// HasRegistrationExpired reports whether a registration's last update is too
// old to keep delivering to.
func HasRegistrationExpired(lastUpdated time.Time) bool {
	return hasRegistrationExpiredAt(lastUpdated, time.Now().UTC())
}

// IsRegistrationTooNew reports whether a registration claims a last-update
// time implausibly far in the future.
func IsRegistrationTooNew(lastUpdated time.Time) bool {
	return isRegistrationTooNewAt(lastUpdated, time.Now().UTC())
}

func hasRegistrationExpiredAt(lastUpdated, now time.Time) bool {
	return now.Sub(lastUpdated) > registrationExpiry
}

func isRegistrationTooNewAt(lastUpdated, now time.Time) bool {
	return lastUpdated.Sub(now) > registrationSkewLimit
}
