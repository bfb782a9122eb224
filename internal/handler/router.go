package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/ratelimit"
	"session-service/internal/session"
	"session-service/internal/token"
	"session-service/internal/util"
)

// requireHTTPS rejects any request that wasn't made over TLS.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires the middleware stack and mounts the auth and session
// routes. The rate limiter guards the auth endpoints, keyed by client IP
// and path.
func NewRouter(
	cfg *config.Config,
	authHandler *AuthHandler,
	sessionHandler *SessionHandler,
	tokens *token.Service,
	validator *session.Validator,
	limiter *ratelimit.Limiter,
	healthCheck func() error,
	logger *zap.Logger,
) chi.Router {
	router := chi.NewRouter()

	if cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := healthCheck(); err != nil {
			util.Error("Health check failed", zap.Error(err))
			respondWithJSON(w, http.StatusServiceUnavailable, errorResponse(nil, "Service unhealthy"))
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "session-service"})
	})

	requireAuth := RequireAuth(tokens, validator)

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter))
			authHandler.RegisterRoutes(r, requireAuth)
		})
		sessionHandler.RegisterRoutes(r, requireAuth)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, errorResponse(nil, "Endpoint not found"))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, errorResponse(nil, "Method not allowed"))
	})

	return router
}
