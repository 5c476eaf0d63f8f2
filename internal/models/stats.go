package models

import "time"

// FrequencyEntry is one row of a credential frequency table
type FrequencyEntry struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// StatsSnapshot is a point-in-time, read-only view of the aggregate counters.
// It is computed on demand and never persisted.
type StatsSnapshot struct {
	TotalConnections  int64            `json:"total_connections"`
	ActiveConnections int64            `json:"active_connections"`
	TotalAttempts     int64            `json:"total_attempts"`
	UniqueIPs         int              `json:"unique_ips"`
	TopUsernames      []FrequencyEntry `json:"top_usernames"`
	TopPasswords      []FrequencyEntry `json:"top_passwords"`
	StartedAt         time.Time        `json:"started_at"`
	Uptime            time.Duration    `json:"-"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
}

// ConnectionEvent is delivered to stats observers when a connection is admitted
type ConnectionEvent struct {
	IPAddress string
	Total     int64
	At        time.Time
}

// AttemptEvent is delivered to stats observers for every counted attempt
type AttemptEvent struct {
	IPAddress string
	Username  string
	Password  string
	Total     int64
	At        time.Time
}
