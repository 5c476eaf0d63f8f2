package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner drops expired entries and reports how many were removed
type Pruner interface {
	Prune() int
}

// CleanupManager periodically drops expired rate limit windows
type CleanupManager struct {
	pruner   Pruner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(pruner Pruner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		pruner:   pruner,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the periodic cleanup task until Stop or ctx ends. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	defer close(cm.doneCh)

	if cm.interval <= 0 {
		cm.logger.Info("cleanup manager disabled")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.runCleanup()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup() {
	removed := cm.pruner.Prune()
	if removed > 0 {
		cm.logger.Debug("expired rate limit windows removed", slog.Int("removed", removed))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

// Done is closed once Start has returned
func (cm *CleanupManager) Done() <-chan struct{} {
	return cm.doneCh
}
