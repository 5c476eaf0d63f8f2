package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/models"
	"github.com/BradenHooton/honeypot/internal/shell"
)

// RateGate is the per-source admission check
type RateGate interface {
	Admit(ipAddress string) bool
}

// CapacityGate is the global concurrent session ceiling
type CapacityGate interface {
	TryAdmit() bool
	Release()
}

// ConnectionTracker receives connection lifecycle counts
type ConnectionTracker interface {
	OnConnectionOpened(ipAddress string)
	OnConnectionClosed()
}

// Evaluator decides authentication attempts
type Evaluator interface {
	Evaluate(ctx context.Context, record *models.AttemptRecord) (auth.Decision, error)
}

// Auditor records session-level events for operators. Optional.
type Auditor interface {
	LogSessionClosed(sessionID, ipAddress, reason string, authenticated bool, duration time.Duration)
	LogShellCommand(sessionID, ipAddress, command string)
}

// Config holds orchestrator configuration
type Config struct {
	ForcedCloseMin time.Duration
	ForcedCloseMax time.Duration
	Profile        shell.Profile
}

// Dependencies are the collaborators an Orchestrator coordinates
type Dependencies struct {
	RateLimiter RateGate
	Admission   CapacityGate
	Stats       ConnectionTracker
	Evaluator   Evaluator
	Auditor     Auditor           // may be nil
	Random      auth.RandomSource // nil uses auth.CryptoSource
}

// Orchestrator owns the lifecycle of every admitted session
type Orchestrator struct {
	config Config
	deps   Dependencies
	logger *slog.Logger
	nowFn  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(config Config, deps Dependencies, logger *slog.Logger) *Orchestrator {
	if deps.Random == nil {
		deps.Random = auth.CryptoSource{}
	}
	return &Orchestrator{
		config:   config,
		deps:     deps,
		logger:   logger,
		nowFn:    time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open runs admission for a new connection. A rejected connection is closed
// through closer and no session exists for it; the error is ErrRateLimited,
// ErrCapacityReached or, during shutdown, ErrSessionClosed.
func (o *Orchestrator) Open(ipAddress string, port int, closer io.Closer) (*Session, error) {
	if !o.deps.RateLimiter.Admit(ipAddress) {
		o.reject(ipAddress, closer, "rate_limited")
		return nil, models.ErrRateLimited
	}
	if !o.deps.Admission.TryAdmit() {
		o.reject(ipAddress, closer, "capacity_reached")
		return nil, models.ErrCapacityReached
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		orchestrator: o,
		conn: models.Connection{
			IPAddress: ipAddress,
			Port:      port,
			SessionID: uuid.New().String(),
			StartedAt: o.nowFn(),
		},
		closer: closer,
		ctx:    ctx,
		cancel: cancel,
		state:  StateAdmitted,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	closing := o.closing
	o.mu.Unlock()
	if closing {
		cancel()
		o.deps.Admission.Release()
		o.reject(ipAddress, closer, "shutting_down")
		return nil, models.ErrSessionClosed
	}

	// Counted and timed before it becomes visible to Shutdown
	o.deps.Stats.OnConnectionOpened(ipAddress)
	delay := auth.UniformDuration(o.deps.Random, o.config.ForcedCloseMin, o.config.ForcedCloseMax)
	s.mu.Lock()
	s.timer = time.AfterFunc(delay, s.forceClose)
	s.mu.Unlock()

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		s.Close(ReasonShutdown)
		return nil, models.ErrSessionClosed
	}
	if s.State() != StateClosed {
		o.sessions[s.conn.SessionID] = s
	}
	o.mu.Unlock()

	o.logger.Info("session admitted",
		slog.String("session_id", s.conn.SessionID),
		slog.String("ip_address", ipAddress),
		slog.Int("port", port),
		slog.Duration("forced_close_in", delay))
	return s, nil
}

// Shutdown closes every live session and refuses new ones
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closing = true
	live := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		s.Close(ReasonShutdown)
	}
	if len(live) > 0 {
		o.logger.Info("closed live sessions", slog.Int("count", len(live)))
	}
}

// ShuttingDown reports whether Shutdown has been called
func (o *Orchestrator) ShuttingDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closing
}

// Active returns the number of live sessions
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, id)
}

func (o *Orchestrator) reject(ipAddress string, closer io.Closer, reason string) {
	if err := closer.Close(); err != nil {
		o.logger.Debug("failed to close rejected connection", slog.String("error", err.Error()))
	}
	o.logger.Info("connection rejected",
		slog.String("ip_address", ipAddress),
		slog.String("reason", reason))
}
