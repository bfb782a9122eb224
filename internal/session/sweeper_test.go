package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/config"
	"session-service/internal/models"
)

func (f *fakeStore) ListActiveIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	if f.down {
		return nil, errStoreDown
	}
	var sessions []*models.Session
	for _, session := range f.sessions {
		if session.IsActive && session.LastAccessed.Before(cutoff) {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (f *fakeStore) ListDeactivatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	if f.down {
		return nil, errStoreDown
	}
	var sessions []*models.Session
	for _, session := range f.sessions {
		if !session.IsActive && session.DeactivatedAt != nil && session.DeactivatedAt.Before(cutoff) {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (f *fakeStore) ListUnverifiedCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	if f.down {
		return nil, errStoreDown
	}
	var users []*models.User
	for _, user := range f.users {
		if !user.EmailVerified && user.CreatedAt.Before(cutoff) {
			copied := *user
			users = append(users, &copied)
		}
	}
	return users, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, user *models.User) error {
	if f.down {
		return errStoreDown
	}
	delete(f.users, user.UserID)
	return nil
}

func sweepConfig() config.SessionConfig {
	return config.SessionConfig{
		SoftWindow:    24 * time.Hour,
		HardWindow:    7 * 24 * time.Hour,
		Retention:     30 * 24 * time.Hour,
		SweepInterval: time.Hour,
		UnverifiedTTL: 24 * time.Hour,
	}
}

func TestSweepDeactivatesHardExpiredSessions(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	store.sessions[session.SessionID].LastAccessed = store.clock.Add(-8 * 24 * time.Hour)

	fresh, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(store, store, sweepConfig())
	sweeper.now = func() time.Time { return store.clock }
	sweeper.Sweep(ctx)

	assert.False(t, store.sessions[session.SessionID].IsActive)
	assert.Equal(t, models.DeactivatedByExpiry, store.sessions[session.SessionID].DeactivatedBy)
	assert.True(t, store.sessions[fresh.SessionID].IsActive)
}

func TestSweepDeletesSessionsPastRetention(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	old := store.clock.Add(-31 * 24 * time.Hour)
	store.sessions[session.SessionID].IsActive = false
	store.sessions[session.SessionID].DeactivatedAt = &old

	recent, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	justNow := store.clock.Add(-time.Hour)
	store.sessions[recent.SessionID].IsActive = false
	store.sessions[recent.SessionID].DeactivatedAt = &justNow

	sweeper := NewSweeper(store, store, sweepConfig())
	sweeper.now = func() time.Time { return store.clock }
	sweeper.Sweep(ctx)

	_, exists := store.sessions[session.SessionID]
	assert.False(t, exists, "sessions past retention are hard-deleted")
	_, exists = store.sessions[recent.SessionID]
	assert.True(t, exists, "recently deactivated sessions stay for audit")
}

func TestSweepRemovesStaleUnverifiedUsers(t *testing.T) {
	store, _, _ := newTestRig(t)
	ctx := context.Background()

	stale := store.addUser("stale")
	stale.EmailVerified = false
	stale.CreatedAt = store.clock.Add(-48 * time.Hour)

	pending := store.addUser("pending")
	pending.EmailVerified = false
	pending.CreatedAt = store.clock.Add(-time.Hour)

	verified := store.addUser("verified")
	verified.CreatedAt = store.clock.Add(-48 * time.Hour)

	sweeper := NewSweeper(store, store, sweepConfig())
	sweeper.now = func() time.Time { return store.clock }
	sweeper.Sweep(ctx)

	_, exists := store.users["stale"]
	assert.False(t, exists)
	_, exists = store.users["pending"]
	assert.True(t, exists)
	_, exists = store.users["verified"]
	assert.True(t, exists)
}

func TestSweeperStartStop(t *testing.T) {
	store, _, _ := newTestRig(t)

	cfg := sweepConfig()
	cfg.SweepInterval = 10 * time.Millisecond

	sweeper := NewSweeper(store, store, cfg)
	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
}
