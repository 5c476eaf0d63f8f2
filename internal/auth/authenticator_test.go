package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/models"
)

type mockRecorder struct {
	mu         sync.Mutex
	records    []*models.AttemptRecord
	AppendFunc func(ctx context.Context, record *models.AttemptRecord) error
}

func (m *mockRecorder) Append(ctx context.Context, record *models.AttemptRecord) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, record)
	}
	return nil
}

type mockCounter struct {
	mu       sync.Mutex
	attempts []string
}

func (m *mockCounter) OnAttempt(ipAddress, username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, ipAddress+"|"+username+"|"+password)
}

func newTestAuthenticator(t *testing.T, config auth.AuthenticatorConfig, timing auth.TimingConfig, rnd auth.RandomSource) (*auth.SessionAuthenticator, *mockRecorder, *mockCounter) {
	t.Helper()
	recorder := &mockRecorder{}
	counter := &mockCounter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := auth.NewSessionAuthenticator(config, recorder, counter, auth.NewTimingDelay(timing, rnd), rnd, logger)
	return a, recorder, counter
}

func passwordAttempt(user, pass string) *models.AttemptRecord {
	return &models.AttemptRecord{
		Timestamp: time.Now().UTC(),
		IPAddress: "203.0.113.20",
		Port:      51515,
		Username:  user,
		Password:  pass,
		Method:    models.AuthMethodPassword,
		SessionID: "session-1",
	}
}

func TestEvaluate_RecordsAndCountsPasswordAttempts(t *testing.T) {
	a, recorder, counter := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 0.5},
		auth.TimingConfig{}, &scriptedSource{floats: []float64{0.9}})

	decision, err := a.Evaluate(context.Background(), passwordAttempt("root", "hunter2"))

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionReject, decision)
	require.Len(t, recorder.records, 1)
	assert.Equal(t, "hunter2", recorder.records[0].Password)
	assert.Equal(t, []string{"203.0.113.20|root|hunter2"}, counter.attempts)
}

func TestEvaluate_AcceptsBelowSuccessRate(t *testing.T) {
	rnd := &scriptedSource{floats: []float64{0.05, 0.1, 0.2}}
	a, _, _ := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 0.1},
		auth.TimingConfig{}, rnd)

	first, err := a.Evaluate(context.Background(), passwordAttempt("a", "b"))
	require.NoError(t, err)
	second, err := a.Evaluate(context.Background(), passwordAttempt("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, auth.DecisionAccept, first)
	// The comparison is strict, so a draw equal to the rate rejects
	assert.Equal(t, auth.DecisionReject, second)
}

func TestEvaluate_ZeroSuccessRateNeverAccepts(t *testing.T) {
	a, _, _ := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 0},
		auth.TimingConfig{}, &scriptedSource{floats: []float64{0}})

	for i := 0; i < 20; i++ {
		decision, err := a.Evaluate(context.Background(), passwordAttempt("root", "root"))
		require.NoError(t, err)
		assert.Equal(t, auth.DecisionReject, decision)
	}
}

func TestEvaluate_ShellDisabledNeverAccepts(t *testing.T) {
	a, recorder, _ := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: false, SuccessRate: 1},
		auth.TimingConfig{}, &scriptedSource{floats: []float64{0}})

	decision, err := a.Evaluate(context.Background(), passwordAttempt("root", "root"))

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionReject, decision)
	assert.Len(t, recorder.records, 1)
}

func TestEvaluate_NonPasswordRejectedWithoutRecordOrDelay(t *testing.T) {
	a, recorder, counter := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 1},
		auth.TimingConfig{MinDelay: 5 * time.Second, MaxDelay: 5 * time.Second}, nil)

	for _, method := range []string{models.AuthMethodPublicKey, models.AuthMethodKeyboardInteractive, "none"} {
		record := passwordAttempt("root", "")
		record.Method = method
		start := time.Now()

		decision, err := a.Evaluate(context.Background(), record)

		require.NoError(t, err)
		assert.Equal(t, auth.DecisionReject, decision, method)
		assert.Less(t, time.Since(start), time.Second, method)
	}
	assert.Empty(t, recorder.records)
	assert.Empty(t, counter.attempts)
}

func TestEvaluate_DelayWithinBounds(t *testing.T) {
	a, _, _ := newTestAuthenticator(t,
		auth.AuthenticatorConfig{},
		auth.TimingConfig{MinDelay: 50 * time.Millisecond, MaxDelay: 80 * time.Millisecond}, auth.CryptoSource{})
	start := time.Now()

	_, err := a.Evaluate(context.Background(), passwordAttempt("x", "y"))

	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestEvaluate_CancelledDuringDelay(t *testing.T) {
	a, recorder, counter := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 1},
		auth.TimingConfig{MinDelay: 10 * time.Second, MaxDelay: 10 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	decision, err := a.Evaluate(ctx, passwordAttempt("root", "root"))

	assert.Equal(t, auth.DecisionReject, decision)
	assert.ErrorIs(t, err, context.Canceled)
	// The attempt was still captured before the delay began
	assert.Len(t, recorder.records, 1)
	assert.Len(t, counter.attempts, 1)
}

func TestEvaluate_RecorderFailureDoesNotBlockDecision(t *testing.T) {
	a, recorder, counter := newTestAuthenticator(t,
		auth.AuthenticatorConfig{FakeShellEnabled: true, SuccessRate: 1},
		auth.TimingConfig{}, &scriptedSource{floats: []float64{0.5}})
	recorder.AppendFunc = func(ctx context.Context, record *models.AttemptRecord) error {
		return errors.New("disk full")
	}

	decision, err := a.Evaluate(context.Background(), passwordAttempt("root", "root"))

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionAccept, decision)
	assert.Len(t, counter.attempts, 1)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "accept", auth.DecisionAccept.String())
	assert.Equal(t, "reject", auth.DecisionReject.String())
}
