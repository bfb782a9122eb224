package models

import (
	"net"
	"time"
)

// Security event types recorded by the events recorder.
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailure     = "login_failure"
	EventSessionRevoked   = "session_revoked"
	EventRevokeAll        = "revoke_all"
	EventPasswordChanged  = "password_changed"
	EventRegistration     = "registration"
	EventEmailVerified    = "email_verified"
	EventVerifyFailed     = "email_verify_failed"
	EventSessionEnded     = "session_ended"
	EventValidationDenied = "validation_denied"
)

// SecurityEvent is the analytics/audit record fanned out to Kafka,
// Elasticsearch and ClickHouse. Recording is best-effort and asynchronous;
// a failed insert never changes an authentication outcome.
type SecurityEvent struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	UserID      string    `db:"user_id" json:"user_id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	IPAddress   net.IP    `db:"ip_address" json:"ip_address"`
	Details     string    `db:"details" json:"details"`
}
