package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrUnauthorized = errors.New("unauthorized")

	// Admission errors. These are expected outcomes, not failures.
	ErrRateLimited     = errors.New("source rate limited")
	ErrCapacityReached = errors.New("connection capacity reached")

	// Session state errors
	ErrSessionClosed    = errors.New("session is closed")
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// Record log errors
	ErrLogClosed = errors.New("attempt log is closed")
)
