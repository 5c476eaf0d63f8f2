package services

import "sync"

// ConnectionAdmission enforces the global ceiling on concurrently active sessions
type ConnectionAdmission struct {
	mu     sync.Mutex
	max    int
	active int
}

// NewConnectionAdmission creates a new ConnectionAdmission with the given ceiling
func NewConnectionAdmission(maxConnections int) *ConnectionAdmission {
	return &ConnectionAdmission{max: maxConnections}
}

// TryAdmit reserves a slot. It returns false, changing nothing, when the
// ceiling has already been reached.
func (a *ConnectionAdmission) TryAdmit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active >= a.max {
		return false
	}
	a.active++
	return true
}

// Release frees a slot. The count never drops below zero.
func (a *ConnectionAdmission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active > 0 {
		a.active--
	}
}

// Active returns the number of reserved slots
func (a *ConnectionAdmission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
