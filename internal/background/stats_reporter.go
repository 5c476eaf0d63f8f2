package background

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/honeypot/internal/models"
	pkglogger "github.com/BradenHooton/honeypot/pkg/logger"
)

// Snapshotter produces aggregate statistics
type Snapshotter interface {
	Snapshot(topN int) models.StatsSnapshot
}

// StatsReporter logs a statistics snapshot on a fixed interval
type StatsReporter struct {
	stats    Snapshotter
	logger   *slog.Logger
	interval time.Duration
	topN     int
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewStatsReporter creates a new stats reporter. An interval of zero disables
// the periodic report; Report can still be called directly.
func NewStatsReporter(stats Snapshotter, logger *slog.Logger, interval time.Duration, topN int) *StatsReporter {
	return &StatsReporter{
		stats:    stats,
		logger:   logger,
		interval: interval,
		topN:     topN,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the periodic report until Stop or ctx ends. It blocks.
func (sr *StatsReporter) Start(ctx context.Context) {
	defer close(sr.doneCh)

	if sr.interval <= 0 {
		return
	}

	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sr.Report(ctx, "honeypot statistics")
		case <-sr.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Report logs the current snapshot under msg
func (sr *StatsReporter) Report(ctx context.Context, msg string) {
	snap := sr.stats.Snapshot(sr.topN)

	sr.logger.LogAttrs(ctx, slog.LevelInfo, msg,
		slog.Int64("total_connections", snap.TotalConnections),
		slog.Int64("active_connections", snap.ActiveConnections),
		slog.Int64("total_attempts", snap.TotalAttempts),
		slog.Int("unique_ips", snap.UniqueIPs),
		slog.Int64("uptime_seconds", snap.UptimeSeconds),
		slog.Any("top_usernames", frequencyAttr(snap.TopUsernames)),
		slog.Any("top_passwords", frequencyAttr(snap.TopPasswords)),
	)
}

// Stop signals the reporter to stop
func (sr *StatsReporter) Stop() {
	sr.stopOnce.Do(func() { close(sr.stopCh) })
}

// Done is closed once Start has returned
func (sr *StatsReporter) Done() <-chan struct{} {
	return sr.doneCh
}

func frequencyAttr(entries []models.FrequencyEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, pkglogger.SanitizeForLog(e.Value)+" ("+strconv.FormatInt(e.Count, 10)+")")
	}
	return out
}
