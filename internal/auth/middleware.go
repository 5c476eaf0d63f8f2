package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/honeypot/internal/models"
	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// OperatorContextKey is the key for storing operator claims in context
	OperatorContextKey contextKey = "operator"
)

// RequireOperator validates bearer tokens and injects the operator claims into context
func RequireOperator(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorFromContext extracts operator claims from request context
func GetOperatorFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(OperatorContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
