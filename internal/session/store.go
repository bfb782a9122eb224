package session

import (
	"context"
	"time"

	"session-service/internal/models"
)

// UserStore is the slice of the user repository the session layer needs.
type UserStore interface {
	UserByID(ctx context.Context, userID string) (*models.User, error)
}

// SessionStore is implemented by the Scylla session repository. Lookups
// signal a missing record with scylla.ErrNotFound; any other error is a
// transport failure and validation must fail closed on it.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	SessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error)
	LatestActiveSession(ctx context.Context, userID string) (*models.Session, error)
	DeactivateSession(ctx context.Context, userID, sessionID, deactivatedBy string) error
	RevokeAll(ctx context.Context, user *models.User, deactivatedBy string) (int, error)
	TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
}
