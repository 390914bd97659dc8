package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's identity in the request context. A nil verifier rejects every
// request.
func Authenticate(verifier *auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeError(w, r, logger, apperr.New(apperr.CodeUnauthenticated, "no token verifier configured"))
				return
			}
			identity, err := verifier.Verify(auth.TokenFromRequest(r))
			if err != nil {
				logger.Debug("authentication failed", "path", r.URL.Path, "err", err)
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func identityFrom(r *http.Request) (auth.Identity, error) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthenticated, "authentication required")
	}
	return identity, nil
}
