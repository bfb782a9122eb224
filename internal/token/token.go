package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"session-service/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload minted at sign-in. TokenVersion is a pointer so a
// token missing the claim entirely can be told apart from one carrying
// version 0; the validator only compares versions when the claim is present.
type Claims struct {
	jwt.RegisteredClaims
	UserID       string `json:"user_id"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	TokenVersion *int   `json:"token_version,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// Version returns the claimed token version, defaulting a missing claim to 0.
func (c *Claims) Version() int {
	if c.TokenVersion == nil {
		return 0
	}
	return *c.TokenVersion
}

// Service mints and parses HMAC-signed access tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Mint issues a token for the user bound to the given session. The token
// carries the user's current tokenVersion; bumping the stored version later
// invalidates every token minted before the bump. The email is passed in
// rather than read from the record because the record holds only ciphertext.
func (s *Service) Mint(user *models.User, email, sessionID string) (string, error) {
	now := s.now().UTC()
	version := user.TokenVersion

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID:       user.UserID,
		Email:        email,
		Role:         user.Role,
		TokenVersion: &version,
		SessionID:    sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies the signature and expiry and returns the claims. The
// signing method is checked explicitly so a token signed with "none" or an
// asymmetric algorithm is rejected.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
