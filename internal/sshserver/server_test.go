package sshserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/hostkey"
	"github.com/BradenHooton/honeypot/internal/models"
	"github.com/BradenHooton/honeypot/internal/services"
	"github.com/BradenHooton/honeypot/internal/session"
	"github.com/BradenHooton/honeypot/internal/shell"
)

const testBanner = "SSH-2.0-OpenSSH_7.4"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedEvaluator struct {
	decision auth.Decision

	mu      sync.Mutex
	records []models.AttemptRecord
}

func (e *fixedEvaluator) Evaluate(_ context.Context, record *models.AttemptRecord) (auth.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, *record)
	if record.Method != models.AuthMethodPassword {
		return auth.DecisionReject, nil
	}
	return e.decision, nil
}

func (e *fixedEvaluator) Records() []models.AttemptRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.AttemptRecord(nil), e.records...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	server    *Server
	orch      *session.Orchestrator
	admission *services.ConnectionAdmission
	evaluator *fixedEvaluator
	addr      string
}

func startServer(t *testing.T, decision auth.Decision, maxAttempts int) *harness {
	t.Helper()

	keyPEM, err := hostkey.Generate()
	require.NoError(t, err)
	signer, err := ssh.ParsePrivateKey(keyPEM)
	require.NoError(t, err)

	h := &harness{
		admission: services.NewConnectionAdmission(10),
		evaluator: &fixedEvaluator{decision: decision},
	}
	h.orch = session.NewOrchestrator(session.Config{
		ForcedCloseMin: time.Minute,
		ForcedCloseMax: time.Minute,
		Profile:        shell.Profile{Hostname: "web01", OS: "Ubuntu 20.04.1 LTS", Kernel: "Linux web01 5.4.0-42-generic x86_64"},
	}, session.Dependencies{
		RateLimiter: services.NewRateLimiter(services.RateLimitConfig{Window: time.Minute, MaxAttempts: maxAttempts}, discardLogger()),
		Admission:   h.admission,
		Stats:       services.NewStatsAggregator(),
		Evaluator:   h.evaluator,
	}, discardLogger())

	h.server = New(Config{ServerVersion: testBanner}, signer, h.orch, discardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h.addr = ln.Addr().String()

	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ln) }()

	t.Cleanup(func() {
		h.server.Close()
		h.orch.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.server.Wait(ctx))
		assert.ErrorIs(t, <-served, ErrServerClosed)
	})
	return h
}

func dial(addr string, methods ...ssh.AuthMethod) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "root",
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestServer_BannerAndExec(t *testing.T) {
	h := startServer(t, auth.DecisionAccept, 10)

	client, err := dial(h.addr, ssh.Password("toor"))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, testBanner, string(client.ServerVersion()))

	sess, err := client.NewSession()
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Output("uname -a")

	var exitErr *ssh.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	assert.Equal(t, 127, exitErr.ExitStatus())
	assert.Equal(t, "bash: uname -a: command not found\r\n", string(out))

	records := h.evaluator.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "root", records[0].Username)
	assert.Equal(t, "toor", records[0].Password)
	assert.Equal(t, "127.0.0.1", records[0].IPAddress)
	assert.Contains(t, records[0].ClientVersion, "SSH-2.0-Go")
}

func TestServer_InteractiveShell(t *testing.T) {
	h := startServer(t, auth.DecisionAccept, 10)

	client, err := dial(h.addr, ssh.Password("toor"))
	require.NoError(t, err)
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.RequestPty("xterm", 40, 80, ssh.TerminalModes{}))
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	out := &syncBuffer{}
	sess.Stdout = out
	require.NoError(t, sess.Shell())

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("root@web01:~# "))
	}, 5*time.Second, 10*time.Millisecond)

	_, err = stdin.Write([]byte("pwd\r"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("pwd\r\n/root\r\n"))
	}, 5*time.Second, 10*time.Millisecond)

	_, err = stdin.Write([]byte("exit\r"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("logout\r\n"))
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return h.orch.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.admission.Active())
}

func TestServer_RejectedCredentials(t *testing.T) {
	h := startServer(t, auth.DecisionReject, 10)

	_, err := dial(h.addr, ssh.Password("guess"))
	require.Error(t, err)

	assert.Eventually(t, func() bool { return h.orch.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.evaluator.Records(), 1)
}

func TestServer_KeyboardInteractiveRejectedWithoutPrompt(t *testing.T) {
	h := startServer(t, auth.DecisionAccept, 10)

	var prompted atomic.Bool
	challenge := ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
		prompted.Store(true)
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = "hunter2"
		}
		return answers, nil
	})
	_, err := dial(h.addr, challenge)
	require.Error(t, err)

	assert.False(t, prompted.Load(), "client must not be prompted")
	records := h.evaluator.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuthMethodKeyboardInteractive, records[0].Method)
	assert.Empty(t, records[0].Password)
}

func TestServer_RateLimitedBeforeHandshake(t *testing.T) {
	h := startServer(t, auth.DecisionAccept, 1)

	client, err := dial(h.addr, ssh.Password("toor"))
	require.NoError(t, err)
	defer client.Close()

	_, err = dial(h.addr, ssh.Password("toor"))
	assert.Error(t, err)

	assert.Len(t, h.evaluator.Records(), 1)
}

func TestServer_ServeAfterClose(t *testing.T) {
	srv := New(Config{}, nil, nil, discardLogger())
	require.NoError(t, srv.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	assert.ErrorIs(t, srv.Serve(ln), ErrServerClosed)
}

func TestIsBenign(t *testing.T) {
	assert.True(t, isBenign(io.EOF))
	assert.True(t, isBenign(net.ErrClosed))
	assert.True(t, isBenign(models.ErrSessionClosed))
	assert.False(t, isBenign(errors.New("boom")))
}
