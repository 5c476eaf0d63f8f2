package models

import "time"

// Authentication method tags as reported by the transport
const (
	AuthMethodPassword            = "password"
	AuthMethodPublicKey           = "publickey"
	AuthMethodKeyboardInteractive = "keyboard-interactive"
)

// AttemptRecord is a single captured credential submission. It is written
// exactly once to the attempt log and never modified afterwards.
type AttemptRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	IPAddress     string    `json:"ip"`
	Port          int       `json:"port"`
	Username      string    `json:"username"`
	Password      string    `json:"password"`
	Method        string    `json:"method"`
	SessionID     string    `json:"session_id"`
	ClientVersion string    `json:"client_version"`
}

// Connection describes an accepted transport connection. The orchestrator
// owns it for the lifetime of the session.
type Connection struct {
	IPAddress     string
	Port          int
	SessionID     string
	StartedAt     time.Time
	ClientVersion string
}
