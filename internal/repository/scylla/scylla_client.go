package scylla

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/util"
)

// ErrNotFound is returned when a lookup matches no row. Callers must treat
// it as a distinct outcome from a transport failure: the former is a
// legitimate "no such record", the latter must fail closed.
var ErrNotFound = errors.New("record not found")

// PreparedStatements holds the statements used by the repositories.
type PreparedStatements struct {
	CreateUser           *gocql.Query
	CreateEmailToUser    *gocql.Query
	GetEmailToUser       *gocql.Query
	GetUserByID          *gocql.Query
	UpdateCredentialHash *gocql.Query
	SetEmailVerified     *gocql.Query
	DeleteUser           *gocql.Query
	DeleteEmailToUser    *gocql.Query

	CreateSession         *gocql.Query
	CreateSessionByID     *gocql.Query
	GetSessionByID        *gocql.Query
	ListUserSessions      *gocql.Query
	DeactivateSession     *gocql.Query
	DeactivateSessionByID *gocql.Query
	TouchSession          *gocql.Query
	TouchSessionByID      *gocql.Query
	DeleteSession         *gocql.Query
	DeleteSessionByID     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, email_hash, email_encrypted, email_key_id,
            credential_hash, token_version, role, email_verified,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateEmailToUser = s.Session.Query(`
        INSERT INTO email_to_user (email_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetEmailToUser = s.Session.Query(`
        SELECT user_bucket, user_id FROM email_to_user WHERE email_hash = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, email_hash, email_encrypted, email_key_id,
            credential_hash, token_version, role, email_verified,
            created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateCredentialHash = s.Session.Query(`
        UPDATE users SET credential_hash = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetEmailVerified = s.Session.Query(`
        UPDATE users SET email_verified = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.DeleteUser = s.Session.Query(`
        DELETE FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.DeleteEmailToUser = s.Session.Query(`
        DELETE FROM email_to_user WHERE email_hash = ?`)

	prepared.CreateSession = s.Session.Query(`
        INSERT INTO sessions (
            user_id, session_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateSessionByID = s.Session.Query(`
        INSERT INTO sessions_by_id (
            session_id, user_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetSessionByID = s.Session.Query(`
        SELECT session_id, user_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        FROM sessions_by_id WHERE session_id = ?`)

	prepared.ListUserSessions = s.Session.Query(`
        SELECT user_id, session_id, browser, os, device_class, ip_address,
            created_at, last_accessed, is_active, deactivated_at, deactivated_by
        FROM sessions WHERE user_id = ?`)

	prepared.DeactivateSession = s.Session.Query(`
        UPDATE sessions SET is_active = false, deactivated_at = ?, deactivated_by = ?
        WHERE user_id = ? AND session_id = ?`)

	prepared.DeactivateSessionByID = s.Session.Query(`
        UPDATE sessions_by_id SET is_active = false, deactivated_at = ?, deactivated_by = ?
        WHERE session_id = ?`)

	prepared.TouchSession = s.Session.Query(`
        UPDATE sessions SET last_accessed = ? WHERE user_id = ? AND session_id = ?`)

	prepared.TouchSessionByID = s.Session.Query(`
        UPDATE sessions_by_id SET last_accessed = ? WHERE session_id = ?`)

	prepared.DeleteSession = s.Session.Query(`
        DELETE FROM sessions WHERE user_id = ? AND session_id = ?`)

	prepared.DeleteSessionByID = s.Session.Query(`
        DELETE FROM sessions_by_id WHERE session_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	return nil
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			if err == gocql.ErrNotFound {
				return err
			}
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
