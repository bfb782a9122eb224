package models

import "time"

// Role values stored on the user record.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the credential record. Email is never stored in clear: EmailHash
// (sha256 of the lowercased address) is the lookup key and EmailEncrypted
// carries the envelope-encrypted original for display and delivery.
//
// TokenVersion starts at 0 and is incremented exactly once per revoke-all
// operation; a signed credential whose embedded version no longer matches is
// invalid regardless of its bound session's state.
type User struct {
	UserBucket     int        `db:"user_bucket"`
	UserID         string     `db:"user_id"`
	EmailHash      string     `db:"email_hash"`
	EmailEncrypted []byte     `db:"email_encrypted"`
	EmailKeyID     string     `db:"email_key_id"`
	CredentialHash string     `db:"credential_hash"`
	TokenVersion   int        `db:"token_version"`
	Role           string     `db:"role"`
	EmailVerified  bool       `db:"email_verified"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}
