package models

import (
	"net"
	"time"
)

// Deactivation attribution values for Session.DeactivatedBy.
const (
	DeactivatedBySelf      = "self"
	DeactivatedByRevokeAll = "revoke-all"
	DeactivatedByOtherDev  = "other-device"
	DeactivatedByExpiry    = "expiry"
	DeactivatedByAdmin     = "admin"
)

// DeviceInfo is descriptive only; it never participates in an authentication
// decision. Unknown fields default to the literal "Unknown".
type DeviceInfo struct {
	Browser     string `db:"browser" json:"browser"`
	OS          string `db:"os" json:"os"`
	DeviceClass string `db:"device_class" json:"device_class"`
}

// Session represents one authenticated device/browser instance for a user.
// A session is usable for authentication iff IsActive is true and its
// last-accessed timestamp is within the hard-expiry window; both terminal
// states (deactivated, deleted) look identical to the validator.
type Session struct {
	UserBucket    int        `db:"user_bucket"`
	SessionID     string     `db:"session_id"`
	UserID        string     `db:"user_id"`
	Device        DeviceInfo `db:"device"`
	IPAddress     net.IP     `db:"ip_address"`
	CreatedAt     time.Time  `db:"created_at"`
	LastAccessed  time.Time  `db:"last_accessed"`
	IsActive      bool       `db:"is_active"`
	DeactivatedAt *time.Time `db:"deactivated_at"`
	DeactivatedBy string     `db:"deactivated_by"`
}
