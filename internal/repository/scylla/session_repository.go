package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"session-service/internal/bucketing"
	"session-service/internal/models"
	"session-service/internal/util"
)

// SessionRepository stores sessions in two tables: one partitioned by user
// for listing, one keyed by session ID for direct lookup. All writes go to
// both tables in a logged batch so they never diverge.
type SessionRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewSessionRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager) *SessionRepository {
	return &SessionRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	session.UserBucket = r.bucketing.UserBucket(session.UserID)

	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastAccessed = now
	session.IsActive = true
	session.DeactivatedAt = nil
	session.DeactivatedBy = ""

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateSession.Statement(),
		session.UserID, session.SessionID,
		session.Device.Browser, session.Device.OS, session.Device.DeviceClass,
		session.IPAddress, session.CreatedAt, session.LastAccessed,
		session.IsActive, session.DeactivatedAt, session.DeactivatedBy)

	batch.Query(r.client.Prepared.CreateSessionByID.Statement(),
		session.SessionID, session.UserID,
		session.Device.Browser, session.Device.OS, session.Device.DeviceClass,
		session.IPAddress, session.CreatedAt, session.LastAccessed,
		session.IsActive, session.DeactivatedAt, session.DeactivatedBy)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to create session",
			zap.String("user_id", session.UserID),
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Session created",
		zap.String("user_id", session.UserID),
		zap.String("session_id", session.SessionID))

	return nil
}

func (r *SessionRepository) SessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	session := &models.Session{}

	query := r.client.Prepared.GetSessionByID.Bind(sessionID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&session.SessionID, &session.UserID,
		&session.Device.Browser, &session.Device.OS, &session.Device.DeviceClass,
		&session.IPAddress, &session.CreatedAt, &session.LastAccessed,
		&session.IsActive, &session.DeactivatedAt, &session.DeactivatedBy)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		util.Error("Failed to get session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.UserBucket = r.bucketing.UserBucket(session.UserID)
	return session, nil
}

func (r *SessionRepository) ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	iter := r.client.Prepared.ListUserSessions.Bind(userID).WithContext(ctx).Iter()

	var sessions []*models.Session
	for {
		session := &models.Session{}
		if !iter.Scan(
			&session.UserID, &session.SessionID,
			&session.Device.Browser, &session.Device.OS, &session.Device.DeviceClass,
			&session.IPAddress, &session.CreatedAt, &session.LastAccessed,
			&session.IsActive, &session.DeactivatedAt, &session.DeactivatedBy) {
			break
		}
		session.UserBucket = r.bucketing.UserBucket(session.UserID)
		sessions = append(sessions, session)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list user sessions",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	return sessions, nil
}

// LatestActiveSession returns the most recently created active session for
// the user, or ErrNotFound when the user has none.
func (r *SessionRepository) LatestActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	sessions, err := r.ListUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	var latest *models.Session
	for _, session := range sessions {
		if !session.IsActive {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("%w: no active session for user %s", ErrNotFound, userID)
	}

	return latest, nil
}

// DeactivateSession flips the session inactive in both tables, recording
// when and why. The rows are retained for audit until the retention sweep.
func (r *SessionRepository) DeactivateSession(ctx context.Context, userID, sessionID, deactivatedBy string) error {
	now := time.Now().UTC()

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.DeactivateSession.Statement(), now, deactivatedBy, userID, sessionID)
	batch.Query(r.client.Prepared.DeactivateSessionByID.Statement(), now, deactivatedBy, sessionID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to deactivate session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to deactivate session: %w", err)
	}

	util.Info("Session deactivated",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("deactivated_by", deactivatedBy))

	return nil
}

// RevokeAll bumps the user's token version and deactivates every active
// session in one logged batch, so previously issued tokens and their
// sessions die together.
func (r *SessionRepository) RevokeAll(ctx context.Context, user *models.User, deactivatedBy string) (int, error) {
	sessions, err := r.ListUserSessions(ctx, user.UserID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	newVersion := user.TokenVersion + 1

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(`UPDATE users SET token_version = ?, updated_at = ? WHERE user_bucket = ? AND user_id = ?`,
		newVersion, now, user.UserBucket, user.UserID)

	revoked := 0
	for _, session := range sessions {
		if !session.IsActive {
			continue
		}
		batch.Query(r.client.Prepared.DeactivateSession.Statement(), now, deactivatedBy, user.UserID, session.SessionID)
		batch.Query(r.client.Prepared.DeactivateSessionByID.Statement(), now, deactivatedBy, session.SessionID)
		revoked++
	}

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to revoke all sessions",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to revoke all sessions: %w", err)
	}

	user.TokenVersion = newVersion

	util.Info("All sessions revoked",
		zap.String("user_id", user.UserID),
		zap.Int("token_version", newVersion),
		zap.Int("sessions_revoked", revoked))

	return revoked, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batch.Query(r.client.Prepared.TouchSession.Statement(), at, userID, sessionID)
	batch.Query(r.client.Prepared.TouchSessionByID.Statement(), at, sessionID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to touch session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}

// DeleteSession removes the rows from both tables. Only the retention sweep
// deletes sessions; everything else deactivates.
func (r *SessionRepository) DeleteSession(ctx context.Context, userID, sessionID string) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.DeleteSession.Statement(), userID, sessionID)
	batch.Query(r.client.Prepared.DeleteSessionByID.Statement(), sessionID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to delete session",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// ListDeactivatedBefore returns inactive sessions deactivated before the
// cutoff. Sweep-cadence scan, same tradeoff as the unverified user listing.
func (r *SessionRepository) ListDeactivatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	iter := r.client.Session.Query(`
        SELECT user_id, session_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        FROM sessions WHERE is_active = false AND deactivated_at < ? ALLOW FILTERING`,
		cutoff).WithContext(ctx).Iter()

	var sessions []*models.Session
	for {
		session := &models.Session{}
		if !iter.Scan(
			&session.UserID, &session.SessionID,
			&session.Device.Browser, &session.Device.OS, &session.Device.DeviceClass,
			&session.IPAddress, &session.CreatedAt, &session.LastAccessed,
			&session.IsActive, &session.DeactivatedAt, &session.DeactivatedBy) {
			break
		}
		sessions = append(sessions, session)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list deactivated sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list deactivated sessions: %w", err)
	}

	return sessions, nil
}

// ListActiveIdleSince returns still-active sessions whose last access is
// before the cutoff, i.e. ones past their hard expiry that nothing has
// flipped yet.
func (r *SessionRepository) ListActiveIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	iter := r.client.Session.Query(`
        SELECT user_id, session_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        FROM sessions WHERE is_active = true AND last_accessed < ? ALLOW FILTERING`,
		cutoff).WithContext(ctx).Iter()

	var sessions []*models.Session
	for {
		session := &models.Session{}
		if !iter.Scan(
			&session.UserID, &session.SessionID,
			&session.Device.Browser, &session.Device.OS, &session.Device.DeviceClass,
			&session.IPAddress, &session.CreatedAt, &session.LastAccessed,
			&session.IsActive, &session.DeactivatedAt, &session.DeactivatedBy) {
			break
		}
		sessions = append(sessions, session)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list expired active sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired active sessions: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
