package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/util"
)

const (
	codePrefix        = "verify_code:"
	codeAttemptPrefix = "verify_attempts:"
	resendLockPrefix  = "verify_resend_lock:"
)

// CodeCache holds pending email verification codes. Keys are the email hash,
// never the plaintext address. Values are argon2 hashes of the code, so a
// cache dump exposes nothing usable.
type CodeCache struct {
	client *client.RedisClient
}

func NewCodeCache(client *client.RedisClient) *CodeCache {
	return &CodeCache{client: client}
}

func (c *CodeCache) SetCode(ctx context.Context, emailHash, codeHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := codePrefix + emailHash
	if err := c.client.Set(ctx, key, codeHash, ttl); err != nil {
		util.Error("Failed to cache verification code",
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to cache verification code: %w", err)
	}

	util.Debug("Verification code cached", zap.Duration("ttl", ttl))
	return nil
}

func (c *CodeCache) Code(ctx context.Context, emailHash string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := codePrefix + emailHash

	codeHash, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return "", fmt.Errorf("no pending verification code")
		}
		util.Error("Failed to get verification code", zap.Error(err))
		return "", fmt.Errorf("failed to get verification code: %w", err)
	}

	return codeHash, nil
}

func (c *CodeCache) DeleteCode(ctx context.Context, emailHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, codePrefix+emailHash); err != nil {
		util.Error("Failed to delete verification code", zap.Error(err))
		return fmt.Errorf("failed to delete verification code: %w", err)
	}

	return nil
}

func (c *CodeCache) IncrementAttempts(ctx context.Context, emailHash string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := codeAttemptPrefix + emailHash

	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("Failed to increment verification attempts", zap.Error(err))
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}

	return int(count), nil
}

func (c *CodeCache) Attempts(ctx context.Context, emailHash string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := codeAttemptPrefix + emailHash

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get verification attempt count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}

	return count, nil
}

func (c *CodeCache) ResetAttempts(ctx context.Context, emailHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, codeAttemptPrefix+emailHash); err != nil {
		util.Error("Failed to reset verification attempts", zap.Error(err))
		return fmt.Errorf("failed to reset verification attempts: %w", err)
	}

	return nil
}

// SetResendLock blocks another code being sent until the lock expires.
// Returns false when a lock is already held.
func (c *CodeCache) SetResendLock(ctx context.Context, emailHash string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := resendLockPrefix + emailHash

	acquired, err := c.client.SetNX(ctx, key, "locked", ttl)
	if err != nil {
		util.Error("Failed to set resend lock", zap.Error(err))
		return false, fmt.Errorf("failed to set resend lock: %w", err)
	}

	return acquired, nil
}

func (c *CodeCache) RemoveResendLock(ctx context.Context, emailHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, resendLockPrefix+emailHash); err != nil {
		return fmt.Errorf("failed to remove resend lock: %w", err)
	}

	return nil
}
