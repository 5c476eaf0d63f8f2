package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name     string
		actual   any
		expected any
	}{
		{"Port", cfg.Server.Port, 2222},
		{"Host", cfg.Server.Host, "0.0.0.0"},
		{"Banner", cfg.Server.Banner, "SSH-2.0-OpenSSH_7.4"},
		{"LogFile", cfg.Log.File, "ssh_honeypot.log"},
		{"RotationSize", cfg.Log.RotationSize, int64(10 * 1024 * 1024)},
		{"MaxFiles", cfg.Log.MaxFiles, 10},
		{"MaxConnections", cfg.Connection.MaxConnections, 100},
		{"DelayMin", cfg.Connection.DelayMin, 2 * time.Second},
		{"DelayMax", cfg.Connection.DelayMax, 10 * time.Second},
		{"ShellEnabled", cfg.Shell.Enabled, true},
		{"SuccessRate", cfg.Shell.SuccessRate, 0.1},
		{"RateLimitWindow", cfg.RateLimit.Window, time.Minute},
		{"RateLimitMaxAttempts", cfg.RateLimit.MaxAttempts, 10},
		{"AuthDelayMin", cfg.Auth.DelayMin, 500 * time.Millisecond},
		{"AuthDelayMax", cfg.Auth.DelayMax, 3500 * time.Millisecond},
		{"StatsInterval", cfg.Stats.DisplayInterval, 5 * time.Minute},
		{"StatsTopCount", cfg.Stats.TopCount, 5},
		{"AdminAddr", cfg.Admin.Addr, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.actual, tt.name)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_PORT", "2022")
	t.Setenv("SSH_HONEYPOT_DELAY_MIN", "100")
	t.Setenv("SSH_HONEYPOT_DELAY_MAX", "250")
	t.Setenv("SSH_HONEYPOT_FAKE_SHELL_ENABLED", "off")
	t.Setenv("SSH_HONEYPOT_FAKE_SHELL_SUCCESS_RATE", "0.5")
	t.Setenv("SSH_HONEYPOT_LOG_ROTATION_MAX_FILES", "0")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2022, cfg.Server.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Connection.DelayMin)
	assert.Equal(t, 250*time.Millisecond, cfg.Connection.DelayMax)
	assert.False(t, cfg.Shell.Enabled)
	assert.Equal(t, 0.5, cfg.Shell.SuccessRate)
	assert.Equal(t, 0, cfg.Log.MaxFiles)
	assert.Equal(t, "0.0.0.0:2022", cfg.Server.ListenAddr())
}

func TestLoad_BoolVariants(t *testing.T) {
	for _, value := range []string{"true", "TRUE", "1", "yes", "On"} {
		t.Setenv("SSH_HONEYPOT_FAKE_SHELL_ENABLED", value)
		assert.True(t, Load().Shell.Enabled, value)
	}
	for _, value := range []string{"false", "0", "no", "nope"} {
		t.Setenv("SSH_HONEYPOT_FAKE_SHELL_ENABLED", value)
		assert.False(t, Load().Shell.Enabled, value)
	}
}

func TestLoad_InvalidNumberFallsBackToDefault(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_PORT", "not-a-port")
	t.Setenv("SSH_HONEYPOT_AUTH_DELAY_MAX", "soon")
	t.Setenv("SSH_HONEYPOT_FAKE_SHELL_SUCCESS_RATE", "lots")

	cfg := Load()

	assert.Equal(t, 2222, cfg.Server.Port)
	assert.Equal(t, 3500*time.Millisecond, cfg.Auth.DelayMax)
	assert.Equal(t, 0.1, cfg.Shell.SuccessRate)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_PORT", "70000")
	t.Setenv("SSH_HONEYPOT_DELAY_MIN", "5000")
	t.Setenv("SSH_HONEYPOT_DELAY_MAX", "1000")
	t.Setenv("SSH_HONEYPOT_AUTH_DELAY_MIN", "900")
	t.Setenv("SSH_HONEYPOT_AUTH_DELAY_MAX", "100")
	t.Setenv("SSH_HONEYPOT_RATE_LIMIT_MAX_ATTEMPTS", "0")
	t.Setenv("SSH_HONEYPOT_FAKE_SHELL_SUCCESS_RATE", "1.5")
	t.Setenv("SSH_HONEYPOT_LOG_ROTATION_MAX_FILES", "-1")

	err := Load().Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Violations, 6)

	joined := strings.Join(ve.Violations, "\n")
	assert.Contains(t, joined, "SSH_HONEYPOT_PORT: must be at most 65535")
	assert.Contains(t, joined, "SSH_HONEYPOT_DELAY_MIN: cannot be greater than SSH_HONEYPOT_DELAY_MAX")
	assert.Contains(t, joined, "SSH_HONEYPOT_AUTH_DELAY_MIN: cannot be greater than SSH_HONEYPOT_AUTH_DELAY_MAX")
	assert.Contains(t, joined, "SSH_HONEYPOT_RATE_LIMIT_MAX_ATTEMPTS")
	assert.Contains(t, joined, "SSH_HONEYPOT_FAKE_SHELL_SUCCESS_RATE")
	assert.Contains(t, joined, "SSH_HONEYPOT_LOG_ROTATION_MAX_FILES")
}

func TestValidate_NegativeDelay(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_DELAY_MIN", "-10")

	err := Load().Validate()

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, strings.Join(ve.Violations, "\n"), "SSH_HONEYPOT_DELAY_MIN: must be at least 0")
}

func TestValidate_AdminSecretRequiredWithAddr(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_ADMIN_ADDR", "127.0.0.1:9090")

	err := Load().Validate()

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"SSH_HONEYPOT_ADMIN_JWT_SECRET: required when SSH_HONEYPOT_ADMIN_ADDR is set"}, ve.Violations)

	t.Setenv("SSH_HONEYPOT_ADMIN_JWT_SECRET", "short")
	require.ErrorAs(t, Load().Validate(), &ve)

	t.Setenv("SSH_HONEYPOT_ADMIN_JWT_SECRET", strings.Repeat("s", 32))
	assert.NoError(t, Load().Validate())
}

func TestValidate_ShortSecretNotEchoed(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_ADMIN_ADDR", "127.0.0.1:9090")
	t.Setenv("SSH_HONEYPOT_ADMIN_JWT_SECRET", "hunter2-secret")

	var ve *ValidationError
	require.ErrorAs(t, Load().Validate(), &ve)

	assert.Equal(t, []string{"SSH_HONEYPOT_ADMIN_JWT_SECRET: must be at least 32 characters"}, ve.Violations)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("SSH_HONEYPOT_ADMIN_TRUSTED_PROXIES", "10.0.0.0/8, ,192.168.1.0/24")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, cfg.Admin.TrustedProxies)
	assert.Equal(t, 60, cfg.Admin.RequestsPerMinute)

	t.Setenv("SSH_HONEYPOT_ADMIN_TRUSTED_PROXIES", "10.0.0.1")

	var ve *ValidationError
	require.ErrorAs(t, Load().Validate(), &ve)
	assert.Equal(t, []string{"SSH_HONEYPOT_ADMIN_TRUSTED_PROXIES[0]: must be a CIDR range (got 10.0.0.1)"}, ve.Violations)
}
