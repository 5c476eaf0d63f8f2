package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/honeypot/internal/models"
)

// AuditLogger writes one structured operator log line per captured event.
// It is registered as a stats observer.
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

// NewAuditLogger creates a new audit logger. In the production env captured
// passwords are redacted from operator logs; the attempt log keeps them.
func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		env:    env,
	}
}

// OnConnection logs an admitted connection
func (al *AuditLogger) OnConnection(event models.ConnectionEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "connection"),
		slog.String("ip_address", SanitizeForLog(event.IPAddress)),
		slog.Int64("total_connections", event.Total),
		slog.String("timestamp", event.At.UTC().Format(time.RFC3339)),
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// OnAttempt logs a captured credential submission
func (al *AuditLogger) OnAttempt(event models.AttemptEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "attempt"),
		slog.String("ip_address", SanitizeForLog(event.IPAddress)),
		slog.String("username", SanitizeForLog(event.Username)),
		RedactedAttr("password", event.Password, al.env),
		slog.Int64("total_attempts", event.Total),
		slog.String("timestamp", event.At.UTC().Format(time.RFC3339)),
	}

	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogSessionClosed logs the end of a session with its reason
func (al *AuditLogger) LogSessionClosed(sessionID, ipAddress, reason string, authenticated bool, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session"),
		slog.String("event_type", "session_closed"),
		slog.String("session_id", sessionID),
		slog.String("ip_address", SanitizeForLog(ipAddress)),
		slog.String("reason", reason),
		slog.Bool("authenticated", authenticated),
		slog.String("duration", duration.Round(time.Millisecond).String()),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// LogShellCommand logs a command typed into the simulated shell
func (al *AuditLogger) LogShellCommand(sessionID, ipAddress, command string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "shell"),
		slog.String("event_type", "command"),
		slog.String("session_id", sessionID),
		slog.String("ip_address", SanitizeForLog(ipAddress)),
		slog.String("command", SanitizeForLog(command)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}
