package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/models"
	"session-service/internal/repository/scylla"
	"session-service/internal/token"
)

var errStoreDown = errors.New("store unreachable")

// fakeStore is an in-memory UserStore plus SessionStore with an injectable
// clock and a switch that makes every call fail like a dead backend.
type fakeStore struct {
	users    map[string]*models.User
	sessions map[string]*models.Session
	clock    time.Time
	nextID   int
	down     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		clock:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) addUser(userID string) *models.User {
	user := &models.User{UserID: userID, Role: models.RoleUser, EmailVerified: true}
	f.users[userID] = user
	return user
}

func (f *fakeStore) UserByID(ctx context.Context, userID string) (*models.User, error) {
	if f.down {
		return nil, errStoreDown
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", scylla.ErrNotFound, userID)
	}
	copied := *user
	return &copied, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, session *models.Session) error {
	if f.down {
		return errStoreDown
	}
	f.nextID++
	session.SessionID = fmt.Sprintf("session-%d", f.nextID)
	session.CreatedAt = f.clock
	session.LastAccessed = f.clock
	session.IsActive = true
	stored := *session
	f.sessions[session.SessionID] = &stored
	return nil
}

func (f *fakeStore) SessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	if f.down {
		return nil, errStoreDown
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", scylla.ErrNotFound, sessionID)
	}
	copied := *session
	return &copied, nil
}

func (f *fakeStore) ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	if f.down {
		return nil, errStoreDown
	}
	var sessions []*models.Session
	for _, session := range f.sessions {
		if session.UserID == userID {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (f *fakeStore) LatestActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	if f.down {
		return nil, errStoreDown
	}
	var latest *models.Session
	for _, session := range f.sessions {
		if session.UserID != userID || !session.IsActive {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no active session for user %s", scylla.ErrNotFound, userID)
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeStore) DeactivateSession(ctx context.Context, userID, sessionID, deactivatedBy string) error {
	if f.down {
		return errStoreDown
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", scylla.ErrNotFound, sessionID)
	}
	at := f.clock
	session.IsActive = false
	session.DeactivatedAt = &at
	session.DeactivatedBy = deactivatedBy
	return nil
}

func (f *fakeStore) RevokeAll(ctx context.Context, user *models.User, deactivatedBy string) (int, error) {
	if f.down {
		return 0, errStoreDown
	}
	stored := f.users[user.UserID]
	stored.TokenVersion++
	user.TokenVersion = stored.TokenVersion

	revoked := 0
	for _, session := range f.sessions {
		if session.UserID == user.UserID && session.IsActive {
			at := f.clock
			session.IsActive = false
			session.DeactivatedAt = &at
			session.DeactivatedBy = deactivatedBy
			revoked++
		}
	}
	return revoked, nil
}

func (f *fakeStore) TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	if f.down {
		return errStoreDown
	}
	if session, ok := f.sessions[sessionID]; ok {
		session.LastAccessed = at
	}
	return nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if f.down {
		return errStoreDown
	}
	delete(f.sessions, sessionID)
	return nil
}

func newTestRig(t *testing.T) (*fakeStore, *Manager, *Validator) {
	t.Helper()
	store := newFakeStore()
	manager := NewManager(store, store)
	manager.now = func() time.Time { return store.clock }
	validator := NewValidator(store, store, 7*24*time.Hour)
	validator.now = func() time.Time { return store.clock }
	return store, manager, validator
}

func claimsFor(user *models.User, sessionID string) *token.Claims {
	version := user.TokenVersion
	return &token.Claims{
		UserID:       user.UserID,
		Role:         user.Role,
		TokenVersion: &version,
		SessionID:    sessionID,
	}
}

func TestSignInThenValidate(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{Browser: "Chrome", OS: "Windows"}, nil)
	require.NoError(t, err)
	require.True(t, session.IsActive)

	claims := claimsFor(alice, session.SessionID)
	assert.Equal(t, 0, *claims.TokenVersion)
	assert.True(t, validator.Validate(ctx, claims, claims.SessionID))
}

func TestRevokeAllInvalidatesEveryOutstandingToken(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	s1, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	s2, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	oldClaims1 := claimsFor(alice, s1.SessionID)
	oldClaims2 := claimsFor(alice, s2.SessionID)

	revoked, err := manager.InvalidateAllSessions(ctx, "alice", models.DeactivatedByRevokeAll)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)
	assert.Equal(t, 1, store.users["alice"].TokenVersion)

	assert.False(t, validator.Validate(ctx, oldClaims1, oldClaims1.SessionID))
	assert.False(t, validator.Validate(ctx, oldClaims2, oldClaims2.SessionID))
}

func TestVersionMismatchRejectsEvenWithActiveSession(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	oldSession, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	staleClaims := claimsFor(alice, oldSession.SessionID)

	_, err = manager.InvalidateAllSessions(ctx, "alice", models.DeactivatedByRevokeAll)
	require.NoError(t, err)

	// A new sign-in after the revocation leaves an active session around.
	newSession, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	assert.False(t, validator.Validate(ctx, staleClaims, newSession.SessionID),
		"a stale token must not ride an active session from a newer sign-in")
}

func TestForeignSessionInvalidationDenied(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	store.addUser("mallory")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	ok, err := manager.InvalidateSession(ctx, "mallory", session.SessionID, models.DeactivatedBySelf)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, store.sessions[session.SessionID].IsActive, "foreign session must be left unchanged")
}

func TestInvalidateSessionIsIdempotent(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := manager.InvalidateSession(ctx, "alice", session.SessionID, models.DeactivatedBySelf)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.False(t, store.sessions[session.SessionID].IsActive)
}

func TestMultiDeviceIndependence(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	s1, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{Browser: "Chrome", OS: "Windows"}, nil)
	require.NoError(t, err)
	s2, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{Browser: "Safari", OS: "iOS"}, nil)
	require.NoError(t, err)

	ok, err := manager.InvalidateSession(ctx, "alice", s1.SessionID, models.DeactivatedBySelf)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, store.sessions[s1.SessionID].IsActive)
	assert.True(t, store.sessions[s2.SessionID].IsActive)
	assert.True(t, validator.Validate(ctx, claimsFor(alice, s2.SessionID), s2.SessionID))
	assert.False(t, validator.Validate(ctx, claimsFor(alice, s1.SessionID), s1.SessionID))
}

func TestNoActiveSessionsMeansInvalidNotError(t *testing.T) {
	store, _, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")

	claims := claimsFor(alice, "")
	assert.False(t, validator.Validate(ctx, claims, ""))
}

func TestHardExpiredSessionRejectedEvenIfStillFlaggedActive(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	store.sessions[session.SessionID].LastAccessed = store.clock.Add(-7*24*time.Hour - time.Second)
	require.True(t, store.sessions[session.SessionID].IsActive)

	assert.False(t, validator.Validate(ctx, claimsFor(alice, session.SessionID), session.SessionID))
}

func TestValidateFailsClosedOnStoreError(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	claims := claimsFor(alice, session.SessionID)

	store.down = true
	assert.False(t, validator.Validate(ctx, claims, claims.SessionID))
}

func TestValidateRejectsMissingUserID(t *testing.T) {
	_, _, validator := newTestRig(t)

	assert.False(t, validator.Validate(context.Background(), nil, ""))
	assert.False(t, validator.Validate(context.Background(), &token.Claims{}, ""))
}

func TestValidateFallsBackToLatestActiveSession(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	_, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	store.clock = store.clock.Add(time.Minute)
	_, err = manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	claims := claimsFor(alice, "")
	assert.True(t, validator.Validate(ctx, claims, ""))
}

func TestValidateRejectsSessionOwnedByAnotherUser(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	mallory := store.addUser("mallory")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	assert.False(t, validator.Validate(ctx, claimsFor(mallory, session.SessionID), session.SessionID))
}

func TestValidateBumpsLastAccessed(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	store.clock = store.clock.Add(time.Hour)
	require.True(t, validator.Validate(ctx, claimsFor(alice, session.SessionID), session.SessionID))

	assert.Equal(t, store.clock, store.sessions[session.SessionID].LastAccessed)
}

func TestLatestActiveSessionNoneIsNotAnError(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	session, err := manager.LatestActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestEndSessionOutcomes(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	store.addUser("mallory")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	result, err := manager.EndSession(ctx, "mallory", session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, EndForbidden, result)
	assert.True(t, store.sessions[session.SessionID].IsActive)

	result, err = manager.EndSession(ctx, "alice", session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, EndRemoved, result)
	assert.False(t, validator.Validate(ctx, claimsFor(alice, session.SessionID), session.SessionID))

	result, err = manager.EndSession(ctx, "alice", "no-such-session")
	require.NoError(t, err)
	assert.Equal(t, EndNotFound, result)
}

func TestInvalidateOtherSessionsKeepsCurrent(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	s1, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	s2, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)
	s3, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	revoked, err := manager.InvalidateOtherSessions(ctx, "alice", s2.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)
	assert.False(t, store.sessions[s1.SessionID].IsActive)
	assert.True(t, store.sessions[s2.SessionID].IsActive)
	assert.False(t, store.sessions[s3.SessionID].IsActive)
}

func TestExpiryMonotonicity(t *testing.T) {
	soft := 24 * time.Hour
	hard := 7 * 24 * time.Hour

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &models.Session{LastAccessed: t0}

	var soonAt, expiredAt time.Time
	for elapsed := time.Duration(0); elapsed <= hard+time.Hour; elapsed += time.Hour {
		now := t0.Add(elapsed)
		if soonAt.IsZero() && ExpiringSoon(session, now, soft, hard) {
			soonAt = now
		}
		if expiredAt.IsZero() && HardExpired(session, now, hard) {
			expiredAt = now
		}
	}

	require.False(t, soonAt.IsZero())
	require.False(t, expiredAt.IsZero())
	assert.True(t, soonAt.Before(expiredAt), "the warning window opens before the cutoff")
}

func TestExpiringSoonIsAdvisoryOnly(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	alice := store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	// Inside the warning window but short of the hard cutoff.
	store.sessions[session.SessionID].LastAccessed = store.clock.Add(-6*24*time.Hour - 12*time.Hour)

	assert.True(t, ExpiringSoon(store.sessions[session.SessionID], store.clock, 24*time.Hour, 7*24*time.Hour))
	assert.True(t, validator.Validate(ctx, claimsFor(alice, session.SessionID), session.SessionID))
}

func TestValidateSkipsVersionCheckWhenClaimAbsent(t *testing.T) {
	store, manager, validator := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	store.users["alice"].TokenVersion = 4
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	claims := &token.Claims{UserID: "alice", SessionID: session.SessionID}
	assert.True(t, validator.Validate(ctx, claims, session.SessionID))
}

func TestGetSessionHidesForeignAndMissing(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	store.addUser("bob")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	got, err := manager.GetSession(ctx, "alice", session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.SessionID, got.SessionID)

	// Bob asking for Alice's session and anyone asking for a nonexistent
	// one look exactly the same.
	foreign, err := manager.GetSession(ctx, "bob", session.SessionID)
	require.NoError(t, err)
	missing, err := manager.GetSession(ctx, "bob", "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, foreign)
	assert.Nil(t, missing)
}

func TestTouchSessionAdvancesLastAccessed(t *testing.T) {
	store, manager, _ := newTestRig(t)
	ctx := context.Background()

	store.addUser("alice")
	session, err := manager.CreateSession(ctx, "alice", models.DeviceInfo{}, nil)
	require.NoError(t, err)

	store.clock = store.clock.Add(45 * time.Minute)
	require.NoError(t, manager.TouchSession(ctx, "alice", session.SessionID))

	got, err := manager.GetSession(ctx, "alice", session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.clock, got.LastAccessed)
}
