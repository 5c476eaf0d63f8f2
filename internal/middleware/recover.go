package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
)

// Recoverer turns a handler panic into a logged 500 with the JSON error body
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic in operator api handler",
					slog.Any("panic", rec),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())))
				pkghttp.WriteInternalError(w, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
