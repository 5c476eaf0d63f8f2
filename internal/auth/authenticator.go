package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/honeypot/internal/models"
	pkglogger "github.com/BradenHooton/honeypot/pkg/logger"
)

// AttemptRecorder persists captured attempts
type AttemptRecorder interface {
	Append(ctx context.Context, record *models.AttemptRecord) error
}

// AttemptCounter tallies captured attempts
type AttemptCounter interface {
	OnAttempt(ipAddress, username, password string)
}

// Decision is the outcome of evaluating one authentication attempt
type Decision int

const (
	DecisionReject Decision = iota
	DecisionAccept
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	default:
		return "reject"
	}
}

// AuthenticatorConfig holds the accept policy
type AuthenticatorConfig struct {
	FakeShellEnabled bool
	SuccessRate      float64 // probability in [0,1] of accepting a password attempt
}

// SessionAuthenticator decides whether a credential submission is accepted.
// Credentials are never checked: acceptance is a random draw gated by config.
type SessionAuthenticator struct {
	config   AuthenticatorConfig
	recorder AttemptRecorder
	counter  AttemptCounter
	delay    *TimingDelay
	rnd      RandomSource
	logger   *slog.Logger
}

// NewSessionAuthenticator creates a new SessionAuthenticator. A nil source uses CryptoSource.
func NewSessionAuthenticator(
	config AuthenticatorConfig,
	recorder AttemptRecorder,
	counter AttemptCounter,
	delay *TimingDelay,
	rnd RandomSource,
	logger *slog.Logger,
) *SessionAuthenticator {
	if rnd == nil {
		rnd = CryptoSource{}
	}
	return &SessionAuthenticator{
		config:   config,
		recorder: recorder,
		counter:  counter,
		delay:    delay,
		rnd:      rnd,
		logger:   logger,
	}
}

// Evaluate records a password attempt, waits the artificial delay and draws
// the decision. Other methods are rejected at once and leave no record.
// If ctx ends during the delay the result is DecisionReject with ctx's error.
func (a *SessionAuthenticator) Evaluate(ctx context.Context, record *models.AttemptRecord) (Decision, error) {
	if record.Method != models.AuthMethodPassword {
		a.logger.Debug("non-password authentication rejected",
			slog.String("method", pkglogger.SanitizeForLog(record.Method)),
			slog.String("ip_address", record.IPAddress),
			slog.String("session_id", record.SessionID))
		return DecisionReject, nil
	}

	// A lost record is logged but does not change how the attempt is answered
	if err := a.recorder.Append(ctx, record); err != nil {
		a.logger.Error("failed to record authentication attempt",
			slog.String("session_id", record.SessionID),
			slog.String("error", err.Error()))
	}
	a.counter.OnAttempt(record.IPAddress, record.Username, record.Password)

	if err := a.delay.Wait(ctx); err != nil {
		return DecisionReject, fmt.Errorf("authentication delay interrupted: %w", err)
	}

	decision := DecisionReject
	if a.config.FakeShellEnabled && a.rnd.Float64() < a.config.SuccessRate {
		decision = DecisionAccept
	}

	a.logger.Debug("authentication decision",
		slog.String("session_id", record.SessionID),
		slog.String("decision", decision.String()))
	return decision, nil
}
