package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"session-service/internal/bucketing"
	"session-service/internal/models"
	"session-service/internal/util"
)

type UserRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager) *UserRepository {
	return &UserRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

// CreateUser persists a new credential record plus the email lookup row in a
// single logged batch. TokenVersion always starts at 0.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.bucketing.UserBucket(user.UserID)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = &now
	user.TokenVersion = 0

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.EmailHash, user.EmailEncrypted, user.EmailKeyID,
		user.CredentialHash, user.TokenVersion, user.Role, user.EmailVerified,
		user.CreatedAt, user.UpdatedAt)

	batch.Query(r.client.Prepared.CreateEmailToUser.Statement(),
		user.EmailHash, user.UserBucket, user.UserID, user.CreatedAt)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return nil
}

func (r *UserRepository) UserByID(ctx context.Context, userID string) (*models.User, error) {
	bucket := r.bucketing.UserBucket(userID)
	user := &models.User{}

	query := r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.EmailHash, &user.EmailEncrypted, &user.EmailKeyID,
		&user.CredentialHash, &user.TokenVersion, &user.Role, &user.EmailVerified,
		&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// UserByEmailHash resolves the email lookup row and then loads the record.
func (r *UserRepository) UserByEmailHash(ctx context.Context, emailHash string) (*models.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetEmailToUser.Bind(emailHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: no user for email hash", ErrNotFound)
		}
		util.Error("Failed to resolve email hash", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve email hash: %w", err)
	}

	return r.UserByID(ctx, userID)
}

func (r *UserRepository) UpdateCredentialHash(ctx context.Context, userID, credentialHash string) error {
	bucket := r.bucketing.UserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateCredentialHash.
		Bind(credentialHash, now, bucket, userID).WithContext(ctx)

	if err := query.Exec(); err != nil {
		util.Error("Failed to update credential hash",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update credential hash: %w", err)
	}

	util.Info("Credential hash updated", zap.String("user_id", userID))
	return nil
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string) error {
	bucket := r.bucketing.UserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.SetEmailVerified.
		Bind(true, now, bucket, userID).WithContext(ctx)

	if err := query.Exec(); err != nil {
		util.Error("Failed to mark email verified",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	return nil
}

// DeleteUser removes the credential record and its email lookup row. Only
// used for registrations that never completed verification.
func (r *UserRepository) DeleteUser(ctx context.Context, user *models.User) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.DeleteUser.Statement(), user.UserBucket, user.UserID)
	batch.Query(r.client.Prepared.DeleteEmailToUser.Statement(), user.EmailHash)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to delete user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to delete user: %w", err)
	}

	util.Info("User deleted", zap.String("user_id", user.UserID))
	return nil
}

// ListUnverifiedCreatedBefore returns unverified users whose registration is
// older than the cutoff. Used by the retention sweep; the filtering scan is
// acceptable at sweep cadence.
func (r *UserRepository) ListUnverifiedCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	iter := r.client.Session.Query(`
        SELECT user_bucket, user_id, email_hash, email_encrypted, email_key_id,
            credential_hash, token_version, role, email_verified,
            created_at, updated_at
        FROM users WHERE email_verified = false AND created_at < ? ALLOW FILTERING`,
		cutoff).WithContext(ctx).Iter()

	var users []*models.User
	for {
		user := &models.User{}
		if !iter.Scan(
			&user.UserBucket, &user.UserID, &user.EmailHash, &user.EmailEncrypted, &user.EmailKeyID,
			&user.CredentialHash, &user.TokenVersion, &user.Role, &user.EmailVerified,
			&user.CreatedAt, &user.UpdatedAt) {
			break
		}
		users = append(users, user)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list unverified users", zap.Error(err))
		return nil, fmt.Errorf("failed to list unverified users: %w", err)
	}

	return users, nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
