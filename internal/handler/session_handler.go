package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/session"
	"session-service/internal/util"
)

// SessionHandler exposes the signed-in user's device list and explicit
// end-session.
type SessionHandler struct {
	manager *session.Manager
	cfg     config.SessionConfig
	logger  *zap.Logger
}

func NewSessionHandler(manager *session.Manager, cfg config.SessionConfig, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
}

func (h *SessionHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Route("/sessions", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", h.ListSessions)
		r.Delete("/{sessionID}", h.EndSession)
	})
}

type sessionView struct {
	SessionID     string     `json:"session_id"`
	Browser       string     `json:"browser"`
	OS            string     `json:"os"`
	DeviceClass   string     `json:"device_class"`
	IPAddress     string     `json:"ip_address,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAccessed  time.Time  `json:"last_accessed"`
	IsActive      bool       `json:"is_active"`
	Current       bool       `json:"current"`
	ExpiringSoon  bool       `json:"expiring_soon"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// ListSessions returns the caller's sessions, active first use case being
// the "your devices" page. Each active session carries an advisory
// expiring-soon flag.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	sessions, err := h.manager.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, errorResponse(nil, "Failed to list sessions"))
		return
	}

	now := time.Now().UTC()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		view := sessionView{
			SessionID:     s.SessionID,
			Browser:       s.Device.Browser,
			OS:            s.Device.OS,
			DeviceClass:   s.Device.DeviceClass,
			CreatedAt:     s.CreatedAt,
			LastAccessed:  s.LastAccessed,
			IsActive:      s.IsActive,
			Current:       s.SessionID == claims.SessionID,
			DeactivatedAt: s.DeactivatedAt,
		}
		if s.IPAddress != nil {
			view.IPAddress = s.IPAddress.String()
		}
		if s.IsActive {
			view.ExpiringSoon = session.ExpiringSoon(s, now, h.cfg.SoftWindow, h.cfg.HardWindow)
		}
		views = append(views, view)
	}

	respondWithJSON(w, http.StatusOK, successResponse(views, "Sessions retrieved"))
}

// EndSession handles "end this device's session". Forbidden and not-found
// produce the same 404: a session ID owned by someone else must look
// exactly like one that does not exist.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.manager.EndSession(r.Context(), claims.UserID, sessionID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, errorResponse(nil, "Failed to end session"))
		return
	}

	switch result {
	case session.EndRemoved:
		respondWithJSON(w, http.StatusOK, successResponse(nil, "Session ended"))
		h.logger.Info("Session ended via HTTP",
			util.String("user_id", claims.UserID),
			util.String("session_id", sessionID))
	default:
		respondWithJSON(w, http.StatusNotFound, errorResponse(nil, "Session not found"))
	}
}
