package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bustrack/internal/auth"
	"bustrack/internal/fleet"
	"bustrack/internal/ingest"
	"bustrack/pkg/realtime"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	Service        *ingest.Service
	Store          *fleet.Store
	Hub            *realtime.Broadcaster
	Verifier       *auth.Verifier
	Stream         http.Handler
	Logger         *slog.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter wires every route. The request timeout applies to /api only so
// long-lived stream connections are not cut.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(deps.CORSOrigins)))

	api := NewAPIHandler(deps.Service, deps.Store, logger)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Get("/health", health)
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(deps.Verifier, logger))
			api.RegisterRoutes(r)
		})
	})
	if deps.Stream != nil {
		r.Handle("/ws", deps.Stream)
	}
	NewStatusHandler(deps.Store, deps.Hub).RegisterRoutes(r)
	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := false
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
}
