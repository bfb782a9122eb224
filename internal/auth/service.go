package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"session-service/internal/models"
	"session-service/internal/notifier"
	"session-service/internal/repository/scylla"
	"session-service/internal/token"
	"session-service/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailInUse         = errors.New("email already registered")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrCodeExpired        = errors.New("verification code expired")
	ErrCodeMismatch       = errors.New("verification code mismatch")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
	ErrResendTooSoon      = errors.New("verification code recently sent")
)

const (
	codeTTL       = 10 * time.Minute
	attemptsTTL   = 10 * time.Minute
	resendLockTTL = time.Minute
	maxAttempts   = 5
	codeDigits    = 6
)

// UserStore is the slice of the user repository the auth flows need.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, userID string) (*models.User, error)
	UserByEmailHash(ctx context.Context, emailHash string) (*models.User, error)
	UpdateCredentialHash(ctx context.Context, userID, credentialHash string) error
	SetEmailVerified(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, user *models.User) error
}

// CodeStore holds pending verification codes, keyed by email hash.
type CodeStore interface {
	SetCode(ctx context.Context, emailHash, codeHash string, ttl time.Duration) error
	Code(ctx context.Context, emailHash string) (string, error)
	DeleteCode(ctx context.Context, emailHash string) error
	IncrementAttempts(ctx context.Context, emailHash string, ttl time.Duration) (int, error)
	ResetAttempts(ctx context.Context, emailHash string) error
	SetResendLock(ctx context.Context, emailHash string, ttl time.Duration) (bool, error)
}

// SessionLifecycle is implemented by the session manager.
type SessionLifecycle interface {
	CreateSession(ctx context.Context, userID string, device models.DeviceInfo, ip net.IP) (*models.Session, error)
	InvalidateSession(ctx context.Context, userID, sessionID, deactivatedBy string) (bool, error)
	InvalidateAllSessions(ctx context.Context, userID, deactivatedBy string) (int, error)
	InvalidateOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error)
}

// Hasher covers both slow credential hashing and code hashing.
type Hasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encoded string) (bool, error)
	HashCode(code string) (string, error)
	VerifyCode(code, encoded string) (bool, error)
}

// Sealer encrypts the email for storage at rest and decrypts it on read.
type Sealer interface {
	Seal(ctx context.Context, plaintext string) ([]byte, string, error)
	Open(ctx context.Context, blob []byte) (string, error)
}

// EventRecorder is the async security-event sink. May be nil-free no-op in
// development.
type EventRecorder interface {
	Record(event *models.SecurityEvent)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event *models.SecurityEvent) {}

// Service implements registration, email verification, sign-in and the
// logout family. Failed sign-ins surface ErrInvalidCredentials regardless
// of whether the account exists or the password was wrong.
type Service struct {
	users    UserStore
	codes    CodeStore
	sessions SessionLifecycle
	tokens   *token.Service
	hasher   Hasher
	sealer   Sealer
	mailer   notifier.Mailer
	events   EventRecorder
}

func NewService(
	users UserStore,
	codes CodeStore,
	sessions SessionLifecycle,
	tokens *token.Service,
	hasher Hasher,
	sealer Sealer,
	mailer notifier.Mailer,
	events EventRecorder,
) *Service {
	if events == nil {
		events = NoopRecorder{}
	}
	return &Service{
		users:    users,
		codes:    codes,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		sealer:   sealer,
		mailer:   mailer,
		events:   events,
	}
}

// EmailHash derives the deterministic lookup key for an address. The
// address itself is stored only encrypted.
func EmailHash(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Register creates an unverified user and sends the verification code. The
// registration is rolled back when the code cannot be confirmed onto the
// delivery pipeline, so no account is left waiting for a code that was
// never sent.
func (s *Service) Register(ctx context.Context, email, password string, ip net.IP) (string, error) {
	emailHash := EmailHash(email)

	if _, err := s.users.UserByEmailHash(ctx, emailHash); err == nil {
		return "", ErrEmailInUse
	} else if !errors.Is(err, scylla.ErrNotFound) {
		return "", fmt.Errorf("failed to check existing registration: %w", err)
	}

	credentialHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	sealed, keyID, err := s.sealer.Seal(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt email: %w", err)
	}

	user := &models.User{
		EmailHash:      emailHash,
		EmailEncrypted: sealed,
		EmailKeyID:     keyID,
		CredentialHash: credentialHash,
		Role:           models.RoleUser,
		EmailVerified:  false,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.sendVerificationCode(ctx, email, emailHash); err != nil {
		if delErr := s.users.DeleteUser(ctx, user); delErr != nil {
			util.Error("Failed to roll back registration after send failure",
				zap.String("user_id", user.UserID),
				zap.Error(delErr))
		}
		return "", err
	}

	s.events.Record(&models.SecurityEvent{
		UserID:    user.UserID,
		EventType: models.EventRegistration,
		IPAddress: ip,
	})

	return user.UserID, nil
}

// ResendCode issues a fresh verification code for a pending registration.
// Rate limited by a short lock so the mailer cannot be used as a spam relay.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	emailHash := EmailHash(email)

	user, err := s.users.UserByEmailHash(ctx, emailHash)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return ErrCodeExpired
		}
		return fmt.Errorf("failed to load registration: %w", err)
	}
	if user.EmailVerified {
		return ErrCodeExpired
	}

	acquired, err := s.codes.SetResendLock(ctx, emailHash, resendLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire resend lock: %w", err)
	}
	if !acquired {
		return ErrResendTooSoon
	}

	return s.sendVerificationCode(ctx, email, emailHash)
}

func (s *Service) sendVerificationCode(ctx context.Context, email, emailHash string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := s.hasher.HashCode(code)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	if err := s.codes.SetCode(ctx, emailHash, codeHash, codeTTL); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	if err := s.mailer.Send(ctx, email, notifier.KindVerificationCode, code); err != nil {
		if delErr := s.codes.DeleteCode(ctx, emailHash); delErr != nil {
			util.Warn("Failed to discard undelivered code", zap.Error(delErr))
		}
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	return nil
}

// VerifyEmail checks the code and marks the account verified. Attempts are
// counted per email hash; the counter outlives a wrong guess so the code
// cannot be brute forced within its TTL.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	emailHash := EmailHash(email)

	attempts, err := s.codes.IncrementAttempts(ctx, emailHash, attemptsTTL)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts > maxAttempts {
		return ErrTooManyAttempts
	}

	codeHash, err := s.codes.Code(ctx, emailHash)
	if err != nil {
		return ErrCodeExpired
	}

	user, err := s.users.UserByEmailHash(ctx, emailHash)
	if err != nil {
		return ErrCodeExpired
	}

	match, err := s.hasher.VerifyCode(code, codeHash)
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !match {
		s.events.Record(&models.SecurityEvent{
			UserID:    user.UserID,
			EventType: models.EventVerifyFailed,
		})
		return ErrCodeMismatch
	}

	if err := s.users.SetEmailVerified(ctx, user.UserID); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	if err := s.codes.DeleteCode(ctx, emailHash); err != nil {
		util.Warn("Failed to remove used code", zap.Error(err))
	}
	if err := s.codes.ResetAttempts(ctx, emailHash); err != nil {
		util.Warn("Failed to reset attempt counter", zap.Error(err))
	}

	s.events.Record(&models.SecurityEvent{
		UserID:    user.UserID,
		EventType: models.EventEmailVerified,
	})

	return nil
}

// Login verifies the password and establishes a session. A session that
// cannot be persisted aborts the sign-in: no token is ever minted without
// a backing session.
func (s *Service) Login(ctx context.Context, email, password string, device models.DeviceInfo, ip net.IP) (string, *models.Session, error) {
	emailHash := EmailHash(email)

	user, err := s.users.UserByEmailHash(ctx, emailHash)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}

	match, err := s.hasher.VerifyPassword(password, user.CredentialHash)
	if err != nil {
		return "", nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		s.events.Record(&models.SecurityEvent{
			UserID:    user.UserID,
			EventType: models.EventLoginFailure,
			IPAddress: ip,
		})
		return "", nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return "", nil, ErrEmailNotVerified
	}

	sess, err := s.sessions.CreateSession(ctx, user.UserID, device, ip)
	if err != nil {
		return "", nil, fmt.Errorf("sign-in aborted, session not persisted: %w", err)
	}

	signed, err := s.tokens.Mint(user, strings.ToLower(strings.TrimSpace(email)), sess.SessionID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to mint token: %w", err)
	}

	s.events.Record(&models.SecurityEvent{
		UserID:    user.UserID,
		SessionID: sess.SessionID,
		EventType: models.EventLoginSuccess,
		IPAddress: ip,
	})

	return signed, sess, nil
}

// Logout deactivates the caller's current session.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) (bool, error) {
	ok, err := s.sessions.InvalidateSession(ctx, userID, sessionID, models.DeactivatedBySelf)
	if err != nil {
		return false, err
	}
	if ok {
		s.events.Record(&models.SecurityEvent{
			UserID:    userID,
			SessionID: sessionID,
			EventType: models.EventSessionEnded,
		})
	}
	return ok, nil
}

// LogoutOthers deactivates every session except the caller's current one.
func (s *Service) LogoutOthers(ctx context.Context, userID, keepSessionID string) (int, error) {
	revoked, err := s.sessions.InvalidateOtherSessions(ctx, userID, keepSessionID)
	if err != nil {
		return revoked, err
	}
	if revoked > 0 {
		s.events.Record(&models.SecurityEvent{
			UserID:    userID,
			SessionID: keepSessionID,
			EventType: models.EventSessionRevoked,
			Details:   fmt.Sprintf("revoked %d other sessions", revoked),
		})
	}
	return revoked, nil
}

// LogoutEverywhere revokes every session and every outstanding token.
func (s *Service) LogoutEverywhere(ctx context.Context, userID string) (int, error) {
	revoked, err := s.sessions.InvalidateAllSessions(ctx, userID, models.DeactivatedByRevokeAll)
	if err != nil {
		return 0, err
	}

	s.events.Record(&models.SecurityEvent{
		UserID:    userID,
		EventType: models.EventRevokeAll,
		Details:   fmt.Sprintf("revoked %d sessions", revoked),
	})

	return revoked, nil
}

// ChangePassword swaps the credential hash and then revokes everything:
// a password change invalidates all outstanding tokens and sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	match, err := s.hasher.VerifyPassword(currentPassword, user.CredentialHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdateCredentialHash(ctx, userID, newHash); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	if _, err := s.sessions.InvalidateAllSessions(ctx, userID, models.DeactivatedByRevokeAll); err != nil {
		return fmt.Errorf("password changed but revocation failed: %w", err)
	}

	s.events.Record(&models.SecurityEvent{
		UserID:    userID,
		EventType: models.EventPasswordChanged,
	})

	if email, err := s.sealer.Open(ctx, user.EmailEncrypted); err == nil {
		if sendErr := s.mailer.Send(ctx, email, notifier.KindPasswordChanged, ""); sendErr != nil {
			util.Warn("Failed to send password change notice", zap.Error(sendErr))
		}
	}

	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
