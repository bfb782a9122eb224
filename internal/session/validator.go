package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"session-service/internal/models"
	"session-service/internal/repository/scylla"
	"session-service/internal/token"
	"session-service/internal/util"
)

// Validator re-derives token validity from live records on every call. The
// token itself cannot be revoked once issued, so nothing here may cache
// user or session state between calls: revocation must be visible on the
// very next request.
type Validator struct {
	users      UserStore
	sessions   SessionStore
	hardWindow time.Duration
	now        func() time.Time
}

func NewValidator(users UserStore, sessions SessionStore, hardWindow time.Duration) *Validator {
	return &Validator{
		users:      users,
		sessions:   sessions,
		hardWindow: hardWindow,
		now:        time.Now,
	}
}

// Validate reports whether the claims are still trustworthy. Any store
// failure yields invalid: a check that cannot prove validity denies access.
// The distinct internal reasons are logged but never surfaced, so a caller
// cannot tell a revoked token from an expired session.
//
// The token version comparison runs before any session state is trusted. A
// stale token's claimed session may coincidentally be active (it may belong
// to a newer sign-in); the version mismatch is the authoritative signal
// that the token predates the last global revocation.
func (v *Validator) Validate(ctx context.Context, claims *token.Claims, candidateSessionID string) bool {
	if claims == nil || claims.UserID == "" {
		return false
	}

	user, err := v.users.UserByID(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, scylla.ErrNotFound) {
			util.Error("Validation failed closed on user load",
				zap.String("user_id", claims.UserID),
				zap.Error(err))
		}
		return false
	}

	if claims.TokenVersion != nil && *claims.TokenVersion != user.TokenVersion {
		util.Debug("Token rejected on version mismatch",
			zap.String("user_id", claims.UserID),
			zap.Int("claimed_version", *claims.TokenVersion),
			zap.Int("current_version", user.TokenVersion))
		return false
	}

	session, ok := v.resolveSession(ctx, claims.UserID, candidateSessionID)
	if !ok {
		return false
	}

	if !session.IsActive {
		return false
	}

	now := v.now().UTC()
	if HardExpired(session, now, v.hardWindow) {
		util.Debug("Token rejected on hard-expired session",
			zap.String("user_id", claims.UserID),
			zap.String("session_id", session.SessionID),
			zap.Time("last_accessed", session.LastAccessed))
		return false
	}

	// Last-write-wins bump; a failed touch does not invalidate the request.
	if err := v.sessions.TouchSession(ctx, session.UserID, session.SessionID, now); err != nil {
		util.Warn("Failed to bump session last_accessed",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	return true
}

// resolveSession loads the claimed session, falling back to the user's
// latest active session when the token carries no session binding. No
// resolvable session means invalid, whether that is a legitimate "none" or
// a store failure.
func (v *Validator) resolveSession(ctx context.Context, userID, candidateSessionID string) (*models.Session, bool) {
	if candidateSessionID != "" {
		session, err := v.sessions.SessionByID(ctx, candidateSessionID)
		if err != nil {
			if !errors.Is(err, scylla.ErrNotFound) {
				util.Error("Validation failed closed on session load",
					zap.String("session_id", candidateSessionID),
					zap.Error(err))
			}
			return nil, false
		}
		if session.UserID != userID {
			util.Warn("Token claimed a session owned by another user",
				zap.String("user_id", userID),
				zap.String("session_id", candidateSessionID))
			return nil, false
		}
		return session, true
	}

	session, err := v.sessions.LatestActiveSession(ctx, userID)
	if err != nil {
		if !errors.Is(err, scylla.ErrNotFound) {
			util.Error("Validation failed closed on latest session load",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return nil, false
	}
	return session, true
}
