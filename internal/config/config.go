package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every configuration key
const EnvPrefix = "SSH_HONEYPOT_"

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Connection ConnectionConfig
	RateLimit  RateLimitConfig
	Auth       AuthConfig
	Shell      ShellConfig
	Stats      StatsConfig
	Admin      AdminConfig
}

type ServerConfig struct {
	Host        string `env:"SSH_HONEYPOT_HOST" validate:"required"`
	Port        int    `env:"SSH_HONEYPOT_PORT" validate:"min=1,max=65535"`
	Banner      string `env:"SSH_HONEYPOT_BANNER" validate:"required,startswith=SSH-2.0-"`
	HostKeyPath string `env:"SSH_HONEYPOT_HOST_KEY_PATH" validate:"required"`
	Env         string `env:"SSH_HONEYPOT_ENV"`
	LogLevel    string `env:"SSH_HONEYPOT_LOG_LEVEL" validate:"oneof=debug info warn error"`
}

type LogConfig struct {
	File         string `env:"SSH_HONEYPOT_LOG_FILE" validate:"required"`
	RotationSize int64  `env:"SSH_HONEYPOT_LOG_ROTATION_SIZE" validate:"min=1"`
	MaxFiles     int    `env:"SSH_HONEYPOT_LOG_ROTATION_MAX_FILES" validate:"min=0"`
}

// ConnectionConfig bounds concurrency and the forced-close timer of
// unauthenticated connections
type ConnectionConfig struct {
	MaxConnections int           `env:"SSH_HONEYPOT_MAX_CONNECTIONS" validate:"min=1"`
	DelayMin       time.Duration `env:"SSH_HONEYPOT_DELAY_MIN" validate:"gte=0,ltefield=DelayMax"`
	DelayMax       time.Duration `env:"SSH_HONEYPOT_DELAY_MAX" validate:"gte=0"`
}

type RateLimitConfig struct {
	Window      time.Duration `env:"SSH_HONEYPOT_RATE_LIMIT_WINDOW" validate:"gt=0"`
	MaxAttempts int           `env:"SSH_HONEYPOT_RATE_LIMIT_MAX_ATTEMPTS" validate:"min=1"`
}

type AuthConfig struct {
	DelayMin time.Duration `env:"SSH_HONEYPOT_AUTH_DELAY_MIN" validate:"gte=0,ltefield=DelayMax"`
	DelayMax time.Duration `env:"SSH_HONEYPOT_AUTH_DELAY_MAX" validate:"gte=0"`
}

type ShellConfig struct {
	Enabled     bool    `env:"SSH_HONEYPOT_FAKE_SHELL_ENABLED"`
	SuccessRate float64 `env:"SSH_HONEYPOT_FAKE_SHELL_SUCCESS_RATE" validate:"gte=0,lte=1"`
	Hostname    string  `env:"SSH_HONEYPOT_FAKE_SHELL_HOSTNAME" validate:"required"`
	OS          string  `env:"SSH_HONEYPOT_FAKE_SHELL_OS" validate:"required"`
	Kernel      string  `env:"SSH_HONEYPOT_FAKE_SHELL_KERNEL" validate:"required"`
}

type StatsConfig struct {
	DisplayInterval time.Duration `env:"SSH_HONEYPOT_STATS_DISPLAY_INTERVAL" validate:"gte=0"`
	TopCount        int           `env:"SSH_HONEYPOT_STATS_TOP_COUNT" validate:"min=1"`
}

// AdminConfig controls the read-only operator API. It is disabled while Addr is empty.
type AdminConfig struct {
	Addr        string        `env:"SSH_HONEYPOT_ADMIN_ADDR"`
	JWTSecret   string        `env:"SSH_HONEYPOT_ADMIN_JWT_SECRET" validate:"required_with=Addr,omitempty,min=32"`
	TokenExpiry time.Duration `env:"SSH_HONEYPOT_ADMIN_TOKEN_EXPIRY" validate:"gt=0"`

	// CIDR ranges whose X-Forwarded-For / X-Real-IP headers are believed
	TrustedProxies    []string `env:"SSH_HONEYPOT_ADMIN_TRUSTED_PROXIES" validate:"dive,cidr"`
	RequestsPerMinute int      `env:"SSH_HONEYPOT_ADMIN_RATE_LIMIT" validate:"gte=1"`
}

// ValidationError collects every violation found in a configuration
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Violations, "; "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Load reads configuration from the environment (and a .env file if present).
// It does not validate; call Validate before using the result.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:        getEnv("HOST", "0.0.0.0"),
			Port:        getEnvAsInt("PORT", 2222),
			Banner:      getEnv("BANNER", "SSH-2.0-OpenSSH_7.4"),
			HostKeyPath: getEnv("HOST_KEY_PATH", "host.key"),
			Env:         getEnv("ENV", "development"),
			LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
		Log: LogConfig{
			File:         getEnv("LOG_FILE", "ssh_honeypot.log"),
			RotationSize: getEnvAsInt64("LOG_ROTATION_SIZE", 10*1024*1024),
			MaxFiles:     getEnvAsInt("LOG_ROTATION_MAX_FILES", 10),
		},
		Connection: ConnectionConfig{
			MaxConnections: getEnvAsInt("MAX_CONNECTIONS", 100),
			DelayMin:       getEnvAsMillis("DELAY_MIN", 2000*time.Millisecond),
			DelayMax:       getEnvAsMillis("DELAY_MAX", 10000*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			Window:      getEnvAsMillis("RATE_LIMIT_WINDOW", 60000*time.Millisecond),
			MaxAttempts: getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 10),
		},
		Auth: AuthConfig{
			DelayMin: getEnvAsMillis("AUTH_DELAY_MIN", 500*time.Millisecond),
			DelayMax: getEnvAsMillis("AUTH_DELAY_MAX", 3500*time.Millisecond),
		},
		Shell: ShellConfig{
			Enabled:     getEnvAsBool("FAKE_SHELL_ENABLED", true),
			SuccessRate: getEnvAsFloat("FAKE_SHELL_SUCCESS_RATE", 0.1),
			Hostname:    getEnv("FAKE_SHELL_HOSTNAME", "honeypot"),
			OS:          getEnv("FAKE_SHELL_OS", "Ubuntu 20.04.1 LTS"),
			Kernel: getEnv("FAKE_SHELL_KERNEL",
				"Linux honeypot 5.4.0-42-generic #46-Ubuntu SMP Fri Jul 10 00:24:02 UTC 2020 x86_64 x86_64 x86_64 GNU/Linux"),
		},
		Stats: StatsConfig{
			DisplayInterval: getEnvAsMillis("STATS_DISPLAY_INTERVAL", 300000*time.Millisecond),
			TopCount:        getEnvAsInt("STATS_TOP_COUNT", 5),
		},
		Admin: AdminConfig{
			Addr:              getEnv("ADMIN_ADDR", ""),
			JWTSecret:         getEnv("ADMIN_JWT_SECRET", ""),
			TokenExpiry:       getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 24*time.Hour),
			TrustedProxies:    getEnvAsSlice("ADMIN_TRUSTED_PROXIES"),
			RequestsPerMinute: getEnvAsInt("ADMIN_RATE_LIMIT", 60),
		},
	}
}

// Validate checks every field and reports all violations at once
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate configuration: %w", err)
	}

	violations := make([]string, 0, len(ve))
	for _, fe := range ve {
		violations = append(violations, fmt.Sprintf("%s: %s", fe.Field(), formatViolation(fe)))
	}
	return &ValidationError{Violations: violations}
}

// ListenAddr returns host:port for the SSH listener
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps LogLevel onto a slog level
func (c *ServerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_with":
		return fmt.Sprintf("required when %s is set", siblingEnvKey(fe))
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s (got %v)", fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s (got %v)", fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s (got %v)", fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("cannot be greater than %s (got %v)", siblingEnvKey(fe), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "cidr":
		return fmt.Sprintf("must be a CIDR range (got %v)", fe.Value())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// siblingEnvKey resolves a field name used as a validation param (e.g. the
// DelayMax in ltefield=DelayMax) to the env key of that sibling field
func siblingEnvKey(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	t := reflect.TypeOf(Config{})
	for _, name := range parts[1 : len(parts)-1] {
		f, ok := t.FieldByName(name)
		if !ok || f.Type.Kind() != reflect.Struct {
			return fe.Param()
		}
		t = f.Type
	}
	if f, ok := t.FieldByName(fe.Param()); ok {
		if key := f.Tag.Get("env"); key != "" {
			return key
		}
	}
	return fe.Param()
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		warnInvalid(key, value, defaultVal)
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		warnInvalid(key, value, defaultVal)
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
		warnInvalid(key, value, defaultVal)
	}
	return defaultVal
}

// getEnvAsBool accepts true/1/yes/on (any case); any other non-empty value is false
func getEnvAsBool(key string, defaultVal bool) bool {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// getEnvAsMillis reads an integer number of milliseconds
func getEnvAsMillis(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		warnInvalid(key, value, defaultVal.Milliseconds())
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		warnInvalid(key, value, defaultVal)
	}
	return defaultVal
}

// getEnvAsSlice splits a comma separated list, dropping empty items
func getEnvAsSlice(key string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func warnInvalid(key, value string, defaultVal any) {
	slog.Warn("invalid configuration value, using default",
		slog.String("key", EnvPrefix+key),
		slog.String("value", value),
		slog.Any("default", defaultVal))
}
