package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/background"
	"github.com/BradenHooton/honeypot/internal/config"
	"github.com/BradenHooton/honeypot/internal/handlers"
	"github.com/BradenHooton/honeypot/internal/hostkey"
	middlewareCustom "github.com/BradenHooton/honeypot/internal/middleware"
	"github.com/BradenHooton/honeypot/internal/repositories"
	"github.com/BradenHooton/honeypot/internal/routes"
	"github.com/BradenHooton/honeypot/internal/services"
	"github.com/BradenHooton/honeypot/internal/session"
	"github.com/BradenHooton/honeypot/internal/shell"
	"github.com/BradenHooton/honeypot/internal/sshserver"
	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
	pkglogger "github.com/BradenHooton/honeypot/pkg/logger"
)

// ErrPanic wraps a panic recovered from Run
var ErrPanic = errors.New("honeypot panicked")

// Honeypot owns every long-lived component. It is built once and passed by reference.
type Honeypot struct {
	cfg    *config.Config
	logger *slog.Logger

	recordLog    *repositories.AttemptLogRepository
	rateLimiter  *services.RateLimiter
	admission    *services.ConnectionAdmission
	stats        *services.StatsAggregator
	orchestrator *session.Orchestrator
	sshServer    *sshserver.Server
	cleanup      *background.CleanupManager
	reporter     *background.StatsReporter
	adminServer  *http.Server
	unsubscribe  func()

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires the honeypot from configuration. The host key is loaded or
// generated and the attempt log is opened; no listener is started.
func New(cfg *config.Config, logger *slog.Logger) (*Honeypot, error) {
	signer, err := hostkey.LoadOrGenerate(cfg.Server.HostKeyPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load host key: %w", err)
	}
	return NewWithSigner(cfg, signer, logger)
}

// NewWithSigner is New with an already loaded host key
func NewWithSigner(cfg *config.Config, signer ssh.Signer, logger *slog.Logger) (*Honeypot, error) {
	recordLog, err := repositories.NewAttemptLogRepository(repositories.AttemptLogConfig{
		Path:         cfg.Log.File,
		RotationSize: cfg.Log.RotationSize,
		MaxFiles:     cfg.Log.MaxFiles,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt log: %w", err)
	}

	h := &Honeypot{
		cfg:       cfg,
		logger:    logger,
		recordLog: recordLog,
		rateLimiter: services.NewRateLimiter(services.RateLimitConfig{
			Window:      cfg.RateLimit.Window,
			MaxAttempts: cfg.RateLimit.MaxAttempts,
		}, logger),
		admission: services.NewConnectionAdmission(cfg.Connection.MaxConnections),
		stats:     services.NewStatsAggregator(),
	}

	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Server.Env)
	h.unsubscribe = h.stats.Subscribe(auditLogger)

	authenticator := auth.NewSessionAuthenticator(
		auth.AuthenticatorConfig{
			FakeShellEnabled: cfg.Shell.Enabled,
			SuccessRate:      cfg.Shell.SuccessRate,
		},
		recordLog,
		h.stats,
		auth.NewTimingDelay(auth.TimingConfig{MinDelay: cfg.Auth.DelayMin, MaxDelay: cfg.Auth.DelayMax}, nil),
		nil,
		logger,
	)

	h.orchestrator = session.NewOrchestrator(session.Config{
		ForcedCloseMin: cfg.Connection.DelayMin,
		ForcedCloseMax: cfg.Connection.DelayMax,
		Profile: shell.Profile{
			Hostname: cfg.Shell.Hostname,
			OS:       cfg.Shell.OS,
			Kernel:   cfg.Shell.Kernel,
		},
	}, session.Dependencies{
		RateLimiter: h.rateLimiter,
		Admission:   h.admission,
		Stats:       h.stats,
		Evaluator:   authenticator,
		Auditor:     auditLogger,
	}, logger)

	h.sshServer = sshserver.New(sshserver.Config{
		Addr:          cfg.Server.ListenAddr(),
		ServerVersion: cfg.Server.Banner,
	}, signer, h.orchestrator, logger)

	h.cleanup = background.NewCleanupManager(h.rateLimiter, logger, cfg.RateLimit.Window)
	h.reporter = background.NewStatsReporter(h.stats, logger, cfg.Stats.DisplayInterval, cfg.Stats.TopCount)

	if cfg.Admin.Addr != "" {
		ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Admin.TrustedProxies}
		router := routes.NewRouter(routes.RouterConfig{
			Env:       cfg.Server.Env,
			IPConfig:  ipConfig,
			RateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Admin.RequestsPerMinute},
		},
			handlers.NewStatsHandler(h.stats, h.orchestrator, cfg.Stats.TopCount),
			auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry),
			logger,
		)
		h.adminServer = &http.Server{
			Addr:         cfg.Admin.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	return h, nil
}

// Run starts the background tasks, the operator API and the SSH listener,
// then blocks until ctx ends or a listener fails. A panic is turned into an
// orderly shutdown and returned wrapped in ErrPanic.
func (h *Honeypot) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in honeypot",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			h.Shutdown(shutdownCtx)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	ln, err := net.Listen("tcp", h.cfg.Server.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.cfg.Server.ListenAddr(), err)
	}

	errCh := make(chan error, 4)
	h.goRecover("rate limit cleanup", errCh, func() { h.cleanup.Start(ctx) })
	h.goRecover("stats reporter", errCh, func() { h.reporter.Start(ctx) })

	if h.adminServer != nil {
		adminLn, err := net.Listen("tcp", h.adminServer.Addr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", h.adminServer.Addr, err)
		}
		h.goRecover("operator api", errCh, func() {
			h.logger.Info("starting operator api", slog.String("addr", adminLn.Addr().String()))
			if err := h.adminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("operator api: %w", err)
			}
		})
	}

	h.goRecover("ssh listener", errCh, func() {
		if err := h.sshServer.Serve(ln); err != nil && !errors.Is(err, sshserver.ErrServerClosed) {
			errCh <- fmt.Errorf("ssh listener: %w", err)
		}
	})

	h.logger.Info("honeypot started",
		slog.String("addr", ln.Addr().String()),
		slog.String("banner", h.cfg.Server.Banner),
		slog.Bool("fake_shell", h.cfg.Shell.Enabled),
		slog.Int("max_connections", h.cfg.Connection.MaxConnections))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, ErrPanic) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			h.Shutdown(shutdownCtx)
			return err
		}
		h.logger.Error("listener failed", slog.String("error", err.Error()))
		return err
	}
}

// goRecover runs fn in its own goroutine. A panic is logged and reported on
// errCh as ErrPanic so Run can shut down in order.
func (h *Honeypot) goRecover(name string, errCh chan<- error, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("panic in honeypot task",
					slog.String("task", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				select {
				case errCh <- fmt.Errorf("%w: %s: %v", ErrPanic, name, r):
				default:
				}
			}
		}()
		fn()
	}()
}

// SSHAddr returns the bound SSH listener address, or nil before Run
func (h *Honeypot) SSHAddr() net.Addr {
	return h.sshServer.Addr()
}

// Stats returns the live statistics aggregator
func (h *Honeypot) Stats() *services.StatsAggregator {
	return h.stats
}

// Shutdown stops everything in order: final statistics, listener, live
// sessions, background tasks, attempt log, operator API. Only the first call
// does any work; later calls return the first result.
func (h *Honeypot) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(ctx)
	})
	return h.shutdownErr
}

func (h *Honeypot) shutdown(ctx context.Context) error {
	h.logger.Info("shutting down honeypot")
	h.reporter.Report(ctx, "final statistics")

	var errs []error

	if err := h.sshServer.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close ssh listener: %w", err))
	}
	h.orchestrator.Shutdown()
	if err := h.sshServer.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	h.cleanup.Stop()
	h.reporter.Stop()

	if err := h.recordLog.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close attempt log: %w", err))
	}

	if h.adminServer != nil {
		if err := h.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop operator api: %w", err))
		}
	}

	h.unsubscribe()

	if err := errors.Join(errs...); err != nil {
		h.logger.Error("shutdown completed with errors", slog.String("error", err.Error()))
		return err
	}
	h.logger.Info("honeypot stopped")
	return nil
}
