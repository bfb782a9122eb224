package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-service/internal/auth"
	"session-service/internal/devicefp"
	"session-service/internal/util"
)

// AuthHandler exposes registration, verification, sign-in and the logout
// family.
type AuthHandler struct {
	authService *auth.Service
	logger      *zap.Logger
}

func NewAuthHandler(authService *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/verify", h.VerifyEmail)
		r.Post("/resend", h.ResendCode)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", h.Logout)
			r.Post("/logout-others", h.LogoutOthers)
			r.Post("/logout-everywhere", h.LogoutEverywhere)
			r.Post("/password", h.ChangePassword)
		})
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse(err, "Invalid request body"))
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		respondWithJSON(w, http.StatusBadRequest,
			errorResponse(nil, "Email and a password of at least 8 characters are required"))
		return
	}

	userID, err := h.authService.Register(r.Context(), req.Email, req.Password, devicefp.ClientIP(r))
	if err != nil {
		respondWithJSON(w, h.statusCode(err), errorResponse(nil, "Registration failed"))
		return
	}

	respondWithJSON(w, http.StatusCreated,
		successResponse(map[string]string{"user_id": userID}, "Verification code sent"))
	h.logger.Info("User registered via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)))
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse(err, "Invalid request body"))
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		respondWithJSON(w, h.statusCode(err), errorResponse(nil, "Verification failed"))
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Email verified"))
}

type resendRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse(err, "Invalid request body"))
		return
	}

	if err := h.authService.ResendCode(r.Context(), req.Email); err != nil {
		respondWithJSON(w, h.statusCode(err), errorResponse(nil, "Resend failed"))
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Verification code sent"))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse(err, "Invalid request body"))
		return
	}

	device := devicefp.FromRequest(r)
	ip := devicefp.ClientIP(r)

	signed, session, err := h.authService.Login(r.Context(), req.Email, req.Password, device, ip)
	if err != nil {
		// One message for every failure mode; nothing distinguishes an
		// unknown account from a wrong password.
		respondWithJSON(w, h.statusCode(err), errorResponse(nil, "Sign-in failed"))
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(loginResponse{
		Token:     signed,
		SessionID: session.SessionID,
	}, "Signed in"))
	h.logger.Info("User signed in via HTTP",
		util.String("user_id", session.UserID),
		util.String("session_id", session.SessionID),
		util.Duration("duration", time.Since(startTime)))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	ok, err := h.authService.Logout(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, errorResponse(nil, "Logout failed"))
		return
	}
	if !ok {
		respondWithJSON(w, http.StatusNotFound, errorResponse(nil, "Session not found"))
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Signed out"))
}

func (h *AuthHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	revoked, err := h.authService.LogoutOthers(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, errorResponse(nil, "Logout failed"))
		return
	}

	respondWithJSON(w, http.StatusOK,
		successResponse(map[string]int{"revoked": revoked}, "Other sessions signed out"))
}

func (h *AuthHandler) LogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	revoked, err := h.authService.LogoutEverywhere(r.Context(), claims.UserID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, errorResponse(nil, "Logout failed"))
		return
	}

	respondWithJSON(w, http.StatusOK,
		successResponse(map[string]int{"revoked": revoked}, "Signed out everywhere"))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse(err, "Invalid request body"))
		return
	}
	if len(req.NewPassword) < 8 {
		respondWithJSON(w, http.StatusBadRequest,
			errorResponse(nil, "New password must be at least 8 characters"))
		return
	}

	if err := h.authService.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondWithJSON(w, h.statusCode(err), errorResponse(nil, "Password change failed"))
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password changed, all sessions signed out"))
}

func (h *AuthHandler) statusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrCodeExpired), errors.Is(err, auth.ErrCodeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrTooManyAttempts), errors.Is(err, auth.ErrResendTooSoon):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
