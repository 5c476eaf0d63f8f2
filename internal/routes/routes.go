package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/honeypot/internal/auth"
	"github.com/BradenHooton/honeypot/internal/handlers"
	middlewareCustom "github.com/BradenHooton/honeypot/internal/middleware"
	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
)

// RouterConfig holds the operator API router settings
type RouterConfig struct {
	Env       string
	IPConfig  *pkghttp.IPConfig
	RateLimit middlewareCustom.RateLimitConfig
}

// NewRouter builds the operator API router with its middleware stack
func NewRouter(
	config RouterConfig,
	statsHandler *handlers.StatsHandler,
	tokenManager *auth.TokenManager,
	logger *slog.Logger,
) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: config.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, config.IPConfig))
	router.Use(middlewareCustom.Recoverer(logger))
	router.Use(middleware.Timeout(15 * time.Second))
	router.Use(middlewareCustom.RateLimitByIP(config.RateLimit, config.IPConfig))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "resource not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteMethodNotAllowed(w, "method not allowed")
	})

	RegisterRoutes(router, statsHandler, tokenManager)
	return router
}

// RegisterRoutes registers all operator API routes
func RegisterRoutes(router chi.Router, statsHandler *handlers.StatsHandler, tokenManager *auth.TokenManager) {
	// Public routes - no authentication required
	router.Get("/health", statsHandler.Health)

	// Protected routes - operator token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(tokenManager))
		r.Get("/stats", statsHandler.GetStats)
	})
}
