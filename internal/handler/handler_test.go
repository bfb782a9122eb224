package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/models"
	"session-service/internal/ratelimit"
	"session-service/internal/repository/scylla"
	"session-service/internal/session"
	"session-service/internal/token"
)

type memoryStore struct {
	users    map[string]*models.User
	sessions map[string]*models.Session
	nextID   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
	}
}

func (m *memoryStore) UserByID(ctx context.Context, userID string) (*models.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", scylla.ErrNotFound, userID)
	}
	copied := *user
	return &copied, nil
}

func (m *memoryStore) CreateSession(ctx context.Context, s *models.Session) error {
	m.nextID++
	s.SessionID = fmt.Sprintf("session-%d", m.nextID)
	s.CreatedAt = time.Now().UTC()
	s.LastAccessed = s.CreatedAt
	s.IsActive = true
	stored := *s
	m.sessions[s.SessionID] = &stored
	return nil
}

func (m *memoryStore) SessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", scylla.ErrNotFound, sessionID)
	}
	copied := *s
	return &copied, nil
}

func (m *memoryStore) ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memoryStore) LatestActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	var latest *models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no active session", scylla.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (m *memoryStore) DeactivateSession(ctx context.Context, userID, sessionID, deactivatedBy string) error {
	if s, ok := m.sessions[sessionID]; ok {
		now := time.Now().UTC()
		s.IsActive = false
		s.DeactivatedAt = &now
		s.DeactivatedBy = deactivatedBy
	}
	return nil
}

func (m *memoryStore) RevokeAll(ctx context.Context, user *models.User, deactivatedBy string) (int, error) {
	m.users[user.UserID].TokenVersion++
	user.TokenVersion = m.users[user.UserID].TokenVersion
	revoked := 0
	for _, s := range m.sessions {
		if s.UserID == user.UserID && s.IsActive {
			s.IsActive = false
			revoked++
		}
	}
	return revoked, nil
}

func (m *memoryStore) TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.LastAccessed = at
	}
	return nil
}

func (m *memoryStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	delete(m.sessions, sessionID)
	return nil
}

type httpRig struct {
	store  *memoryStore
	tokens *token.Service
	router chi.Router
}

func newHTTPRig(t *testing.T) *httpRig {
	t.Helper()

	store := newMemoryStore()
	tokens := token.NewService("test-secret", time.Hour)
	validator := session.NewValidator(store, store, 7*24*time.Hour)
	manager := session.NewManager(store, store)

	cfg := config.SessionConfig{SoftWindow: 24 * time.Hour, HardWindow: 7 * 24 * time.Hour}
	sessionHandler := NewSessionHandler(manager, cfg, zap.NewNop())

	requireAuth := RequireAuth(tokens, validator)
	router := chi.NewRouter()
	sessionHandler.RegisterRoutes(router, requireAuth)

	return &httpRig{store: store, tokens: tokens, router: router}
}

func (r *httpRig) signIn(t *testing.T, userID string) (string, *models.Session) {
	t.Helper()
	user := &models.User{UserID: userID, Role: models.RoleUser, EmailVerified: true}
	r.store.users[userID] = user

	sess := &models.Session{UserID: userID}
	require.NoError(t, r.store.CreateSession(context.Background(), sess))

	signed, err := r.tokens.Mint(user, userID+"@example.com", sess.SessionID)
	require.NoError(t, err)
	return signed, sess
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	rig := newHTTPRig(t)

	req := httptest.NewRequest("GET", "/sessions/", nil)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/sessions/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	rig := newHTTPRig(t)
	signed, _ := rig.signIn(t, "alice")

	req := httptest.NewRequest("GET", "/sessions/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsAfterRevokeAll(t *testing.T) {
	rig := newHTTPRig(t)
	signed, _ := rig.signIn(t, "alice")

	_, err := rig.store.RevokeAll(context.Background(), rig.store.users["alice"], models.DeactivatedByRevokeAll)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/sessions/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEndSessionHidesForeignSessions(t *testing.T) {
	rig := newHTTPRig(t)
	signedAlice, _ := rig.signIn(t, "alice")
	_, bobSession := rig.signIn(t, "bob")

	req := httptest.NewRequest("DELETE", "/sessions/"+bobSession.SessionID, nil)
	req.Header.Set("Authorization", "Bearer "+signedAlice)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	foreignBody := rec.Body.String()
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, rig.store.sessions[bobSession.SessionID].IsActive, "foreign session untouched")

	req = httptest.NewRequest("DELETE", "/sessions/no-such-session", nil)
	req.Header.Set("Authorization", "Bearer "+signedAlice)
	rec = httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, foreignBody, rec.Body.String(),
		"foreign and missing session responses must be identical")
}

func TestEndOwnSession(t *testing.T) {
	rig := newHTTPRig(t)
	signed, sess := rig.signIn(t, "alice")

	req := httptest.NewRequest("DELETE", "/sessions/"+sess.SessionID, nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, rig.store.sessions[sess.SessionID].IsActive)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 2, time.Minute)

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
