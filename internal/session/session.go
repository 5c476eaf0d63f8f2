package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/models"
	"github.com/BradenHooton/honeypot/internal/shell"
)

// State is a session's position in its lifecycle
type State int

const (
	StatePending State = iota
	StateAdmitted
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Close reasons
const (
	ReasonTransportClosed = "transport_closed"
	ReasonForcedTimeout   = "forced_timeout"
	ReasonLogout          = "logout"
	ReasonShutdown        = "shutdown"
	ReasonError           = "error"
)

// ExitCommandNotFound is the exit status of every one-shot command
const ExitCommandNotFound = 127

// Session is one admitted connection
type Session struct {
	orchestrator *Orchestrator
	conn         models.Connection
	closer       io.Closer
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	closeOnce    sync.Once

	mu            sync.Mutex
	state         State
	authenticated bool
	timer         *time.Timer
	shell         *shell.FakeShell
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.conn.SessionID
}

// Connection returns a copy of the connection details
func (s *Session) Connection() models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context is cancelled when the session closes
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed once the session has fully closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Authenticate evaluates one attempt. It may block for the artificial delay.
// A decision that completes after the session closed is discarded and
// ErrSessionClosed is returned.
func (s *Session) Authenticate(method, username, password, clientVersion string) (bool, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return false, models.ErrSessionClosed
	case StateAuthenticated:
		s.mu.Unlock()
		return true, nil
	}
	s.state = StateAuthenticating
	if clientVersion != "" {
		s.conn.ClientVersion = clientVersion
	}
	record := &models.AttemptRecord{
		Timestamp:     s.orchestrator.nowFn().UTC(),
		IPAddress:     s.conn.IPAddress,
		Port:          s.conn.Port,
		Username:      username,
		Password:      password,
		Method:        method,
		SessionID:     s.conn.SessionID,
		ClientVersion: s.conn.ClientVersion,
	}
	s.mu.Unlock()

	decision, err := s.orchestrator.deps.Evaluator.Evaluate(s.ctx, record)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false, models.ErrSessionClosed
	}
	if err != nil {
		s.state = StateRejected
		return false, err
	}
	if decision != auth.DecisionAccept {
		s.state = StateRejected
		return false, nil
	}

	s.state = StateAuthenticated
	s.authenticated = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.orchestrator.logger.Info("session authenticated",
		slog.String("session_id", s.conn.SessionID),
		slog.String("ip_address", s.conn.IPAddress))
	return true, nil
}

// OpenShell starts the simulated shell on w. With pty set, input is echoed
// and bare newlines are written as CRLF.
func (s *Session) OpenShell(w io.Writer, pty bool) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return models.ErrSessionClosed
	}
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return models.ErrNotAuthenticated
	}
	if pty {
		w = shell.NewCRLFWriter(w)
	}
	sh := shell.New(w, s.conn.IPAddress, s.orchestrator.config.Profile, pty)
	if a := s.orchestrator.deps.Auditor; a != nil {
		id, ip := s.conn.SessionID, s.conn.IPAddress
		sh.OnCommand(func(line string) { a.LogShellCommand(id, ip, line) })
	}
	s.shell = sh
	s.mu.Unlock()

	if err := sh.Start(); err != nil {
		s.Close(ReasonError)
		return fmt.Errorf("failed to start shell: %w", err)
	}
	return nil
}

// Input feeds raw channel bytes to the shell. The session closes when the
// shell asks to terminate.
func (s *Session) Input(data []byte) (shell.Outcome, error) {
	s.mu.Lock()
	sh, state := s.shell, s.state
	s.mu.Unlock()

	if state == StateClosed {
		return shell.Terminate, models.ErrSessionClosed
	}
	if sh == nil {
		return shell.Terminate, models.ErrNotAuthenticated
	}

	outcome := sh.Feed(data)
	if outcome == shell.Terminate {
		if err := sh.Err(); err != nil {
			s.Close(ReasonError)
		} else {
			s.Close(ReasonLogout)
		}
	}
	return outcome, nil
}

// Exec answers a one-shot command with "command not found" and returns the
// exit status to report
func (s *Session) Exec(w io.Writer, command string) (int, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateClosed {
		return ExitCommandNotFound, models.ErrSessionClosed
	}
	if state != StateAuthenticated {
		return ExitCommandNotFound, models.ErrNotAuthenticated
	}

	cmd := strings.TrimSpace(command)
	if a := s.orchestrator.deps.Auditor; a != nil {
		a.LogShellCommand(s.conn.SessionID, s.conn.IPAddress, cmd)
	}
	if _, err := io.WriteString(w, shell.CommandNotFound(cmd)); err != nil {
		return ExitCommandNotFound, fmt.Errorf("failed to write exec response: %w", err)
	}
	return ExitCommandNotFound, nil
}

// Close ends the session. Only the first call has any effect.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.timer != nil {
			s.timer.Stop()
		}
		authenticated := s.authenticated
		s.mu.Unlock()

		s.cancel()

		o := s.orchestrator
		o.deps.Admission.Release()
		o.deps.Stats.OnConnectionClosed()
		o.remove(s.conn.SessionID)

		if err := s.closer.Close(); err != nil {
			o.logger.Debug("transport close error",
				slog.String("session_id", s.conn.SessionID),
				slog.String("error", err.Error()))
		}

		duration := o.nowFn().Sub(s.conn.StartedAt)
		if o.deps.Auditor != nil {
			o.deps.Auditor.LogSessionClosed(s.conn.SessionID, s.conn.IPAddress, reason, authenticated, duration)
		} else {
			o.logger.Info("session closed",
				slog.String("session_id", s.conn.SessionID),
				slog.String("reason", reason),
				slog.Bool("authenticated", authenticated))
		}
		close(s.done)
	})
}

// forceClose runs when the forced-close timer fires. It does nothing once
// the session has authenticated.
func (s *Session) forceClose() {
	s.mu.Lock()
	skip := s.state == StateAuthenticated || s.state == StateClosed
	s.mu.Unlock()
	if skip {
		return
	}
	s.Close(ReasonForcedTimeout)
}
