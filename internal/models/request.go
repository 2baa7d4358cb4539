package models

import "time"

// ActiveRequestRecord is an admitted request occupying a concurrency slot.
// Process-local and never persisted.
type ActiveRequestRecord struct {
	RequestID string
	StartTime time.Time
	SizeBytes int64
	IP        string
	UserAgent string
	Path      string
}

// Credential is the minimal account view AuthGuard needs to verify a password
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
}
