package models

import "time"

// LockoutEntry tracks authentication failures for one identity (normally an email)
type LockoutEntry struct {
	FailedAttempts  int        `json:"failed_attempts"`
	LastFailureTime time.Time  `json:"last_failure_time"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
}

// IsLockedAt reports whether the entry carries a lock that is still in force at now
func (e *LockoutEntry) IsLockedAt(now time.Time) bool {
	return e != nil && e.LockedUntil != nil && now.Before(*e.LockedUntil)
}

// LockoutStatus is the result of a lock check
type LockoutStatus struct {
	Locked    bool
	Remaining time.Duration
}

// FailureResult is the result of recording a failed authentication.
// The shape is identical whether or not the identity maps to a real account.
type FailureResult struct {
	Locked            bool
	LockedUntil       *time.Time
	AttemptsRemaining int
}
