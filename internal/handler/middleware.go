package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"session-service/internal/devicefp"
	"session-service/internal/ratelimit"
	"session-service/internal/session"
	"session-service/internal/token"
	"session-service/internal/util"
)

type contextKey string

const claimsContextKey contextKey = "auth.claims"

// ClaimsFromContext returns the validated claims RequireAuth stored, or nil
// on an unauthenticated request.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*token.Claims)
	return claims
}

// RequireAuth parses the bearer token and revalidates it against live user
// and session state. Every failure is a uniform 401: the caller learns
// nothing about whether the token was malformed, revoked or expired.
func RequireAuth(tokens *token.Service, validator *session.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondWithJSON(w, http.StatusUnauthorized, errorResponse(nil, "Authentication required"))
				return
			}

			claims, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondWithJSON(w, http.StatusUnauthorized, errorResponse(nil, "Authentication required"))
				return
			}

			if !validator.Validate(r.Context(), claims, claims.SessionID) {
				respondWithJSON(w, http.StatusUnauthorized, errorResponse(nil, "Authentication required"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware throttles by client IP and path. A store failure
// lets the request through; the limiter protects capacity, it is not an
// authentication control.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", devicefp.ClientIP(r), r.URL.Path)

			allowed, count, err := limiter.Allow(r.Context(), key)
			if err != nil {
				util.Warn("Rate limit check failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				respondWithJSON(w, http.StatusTooManyRequests, errorResponse(nil, "Too many requests"))
				util.Warn("Request rate limited",
					zap.String("key", key),
					zap.Int("count", count))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware logs one line per request with status and timing.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
