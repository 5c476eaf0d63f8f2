package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/honeypot/internal/app"
	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/config"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an operator API token for the named operator and exit")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			logger.Error("invalid configuration", slog.Any("violations", ve.Violations))
		} else {
			logger.Error("invalid configuration", slog.Any("error", err))
		}
		os.Exit(1)
	}

	if *issueToken != "" {
		os.Exit(printToken(cfg, *issueToken, logger))
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("addr", cfg.Server.ListenAddr()),
		slog.Bool("operator_api", cfg.Admin.Addr != ""))

	honeypot, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize honeypot", slog.Any("error", err))
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := honeypot.Run(ctx)
	if runErr == nil {
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := honeypot.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	if runErr != nil {
		logger.Error("honeypot stopped after failure", slog.Any("error", runErr))
		shutdownCancel()
		os.Exit(1)
	}
}

// printToken mints an operator token and returns the process exit code
func printToken(cfg *config.Config, operator string, logger *slog.Logger) int {
	if len(cfg.Admin.JWTSecret) < 32 {
		logger.Error("SSH_HONEYPOT_ADMIN_JWT_SECRET must be set to at least 32 characters to issue tokens")
		return 1
	}

	token, err := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry).GenerateOperatorToken(operator)
	if err != nil {
		logger.Error("failed to issue token", slog.Any("error", err))
		return 1
	}
	fmt.Println(token)
	return 0
}
