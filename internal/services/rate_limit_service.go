package services

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig holds configuration for per-source admission control
type RateLimitConfig struct {
	Window      time.Duration // window length; the count resets once it has elapsed
	MaxAttempts int           // admissions allowed per window
}

// rateWindow tracks one source address. Mutated only while RateLimiter.mu is held.
type rateWindow struct {
	attempts    int
	windowStart time.Time
}

// RateLimiter admits connections per source address using a resetting
// fixed window. Counts are exact: every update happens under one mutex.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	windows map[string]*rateWindow
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		config:  config,
		windows: make(map[string]*rateWindow),
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Admit counts an admission check for ipAddress and reports whether it is
// within the configured maximum for the current window
func (rl *RateLimiter) Admit(ipAddress string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	w, ok := rl.windows[ipAddress]
	if !ok {
		w = &rateWindow{windowStart: now}
		rl.windows[ipAddress] = w
	} else if now.Sub(w.windowStart) > rl.config.Window {
		w.attempts = 0
		w.windowStart = now
	}

	w.attempts++
	if w.attempts > rl.config.MaxAttempts {
		if w.attempts == rl.config.MaxAttempts+1 {
			rl.logger.Info("source rate limited",
				slog.String("ip_address", ipAddress),
				slog.Int("max_attempts", rl.config.MaxAttempts),
				slog.Duration("window", rl.config.Window))
		}
		return false
	}
	return true
}

// Prune drops windows that have already expired and returns how many were
// removed. An expired window would be reset by the next Admit anyway, so
// pruning never changes an admission decision.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	removed := 0
	for ip, w := range rl.windows {
		if now.Sub(w.windowStart) > rl.config.Window {
			delete(rl.windows, ip)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of source addresses with a live window
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
