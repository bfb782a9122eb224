package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"session-service/internal/models"
	"session-service/internal/repository/scylla"
	"session-service/internal/util"
)

// EndResult is the outcome of an explicit end-session request. Forbidden is
// distinguished internally for logging; the transport layer must present it
// identically to NotFound so foreign session IDs cannot be probed.
type EndResult int

const (
	EndRemoved EndResult = iota
	EndNotFound
	EndForbidden
)

// Manager owns session lifecycle: creation at sign-in, per-session and
// global invalidation, and explicit end-session. A session only ever moves
// from active to deactivated; nothing reactivates one. Physical deletion is
// the retention sweep's job.
type Manager struct {
	sessions SessionStore
	users    UserStore
	now      func() time.Time
}

func NewManager(sessions SessionStore, users UserStore) *Manager {
	return &Manager{
		sessions: sessions,
		users:    users,
		now:      time.Now,
	}
}

// CreateSession persists a new active session. Sign-in must treat an error
// here as sign-in failure: no token is minted without a backing session.
func (m *Manager) CreateSession(ctx context.Context, userID string, device models.DeviceInfo, ip net.IP) (*models.Session, error) {
	session := &models.Session{
		UserID:    userID,
		Device:    device,
		IPAddress: ip,
	}

	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// LatestActiveSession returns the user's most recently created active
// session, or (nil, nil) when there is none. Having no active session is a
// normal state, not a fault.
func (m *Manager) LatestActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	session, err := m.sessions.LatestActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve latest session: %w", err)
	}
	return session, nil
}

// GetSession looks up one session by ID on behalf of userID. Missing and
// foreign sessions both come back as (nil, nil); ownership failures are not
// observable through this method.
func (m *Manager) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := m.sessions.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != userID {
		return nil, nil
	}
	return session, nil
}

func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return m.sessions.ListUserSessions(ctx, userID)
}

// TouchSession records activity on a session. Last write wins; callers treat
// failures as advisory.
func (m *Manager) TouchSession(ctx context.Context, userID, sessionID string) error {
	return m.sessions.TouchSession(ctx, userID, sessionID, m.now().UTC())
}

// InvalidateSession soft-deactivates one session owned by userID. Returns
// false when the session is missing or belongs to someone else; the two
// cases are indistinguishable to the caller. Deactivating an already
// inactive session succeeds, so retries are harmless.
func (m *Manager) InvalidateSession(ctx context.Context, userID, sessionID, deactivatedBy string) (bool, error) {
	session, err := m.sessions.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	if session.UserID != userID {
		util.Warn("Session invalidation denied for foreign session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID))
		return false, nil
	}

	if err := m.sessions.DeactivateSession(ctx, userID, sessionID, deactivatedBy); err != nil {
		return false, fmt.Errorf("failed to invalidate session: %w", err)
	}

	return true, nil
}

// InvalidateAllSessions bumps the user's token version and deactivates
// every session. Every outstanding token dies on its next validation, even
// ones bound to sessions this call never touched. Returns the number of
// sessions deactivated.
func (m *Manager) InvalidateAllSessions(ctx context.Context, userID, deactivatedBy string) (int, error) {
	user, err := m.users.UserByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load user for revocation: %w", err)
	}

	revoked, err := m.sessions.RevokeAll(ctx, user, deactivatedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	return revoked, nil
}

// InvalidateOtherSessions deactivates every active session except the one
// the caller is using. The token version is left alone so the kept
// session's token stays valid.
func (m *Manager) InvalidateOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error) {
	sessions, err := m.sessions.ListUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	revoked := 0
	for _, session := range sessions {
		if !session.IsActive || session.SessionID == keepSessionID {
			continue
		}
		if err := m.sessions.DeactivateSession(ctx, userID, session.SessionID, models.DeactivatedByOtherDev); err != nil {
			return revoked, fmt.Errorf("failed to invalidate session %s: %w", session.SessionID, err)
		}
		revoked++
	}

	return revoked, nil
}

// EndSession handles the explicit "end this device's session" action. It
// deactivates rather than deletes so the record stays queryable for audit;
// the retention sweep removes it for good later. The validator treats
// deactivated and deleted sessions identically, so the caller cannot tell
// the difference.
func (m *Manager) EndSession(ctx context.Context, userID, sessionID string) (EndResult, error) {
	session, err := m.sessions.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return EndNotFound, nil
		}
		return EndNotFound, fmt.Errorf("failed to load session: %w", err)
	}

	if session.UserID != userID {
		util.Warn("End session denied for foreign session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID))
		return EndForbidden, nil
	}

	if err := m.sessions.DeactivateSession(ctx, userID, sessionID, models.DeactivatedBySelf); err != nil {
		return EndNotFound, fmt.Errorf("failed to end session: %w", err)
	}

	return EndRemoved, nil
}
