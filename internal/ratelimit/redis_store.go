package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/util"
)

const redisKeyPrefix = "rate_limit:"

// RedisStore implements the sliding window over a Redis sorted set, scored
// by hit timestamp. Limits hold across all instances sharing the Redis.
type RedisStore struct {
	client *client.RedisClient
}

func NewRedisStore(client *client.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	redisKey := redisKeyPrefix + key
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	if err := s.client.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart, 10)); err != nil {
		util.Error("Failed to trim rate limit window", zap.String("key", key), zap.Error(err))
		return false, 0, fmt.Errorf("failed to trim rate limit window: %w", err)
	}

	count, err := s.client.ZCard(ctx, redisKey)
	if err != nil {
		util.Error("Failed to count rate limit window", zap.String("key", key), zap.Error(err))
		return false, 0, fmt.Errorf("failed to count rate limit window: %w", err)
	}

	if count >= int64(limit) {
		return false, int(count), nil
	}

	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	}
	if err := s.client.ZAdd(ctx, redisKey, member); err != nil {
		util.Error("Failed to record rate limit hit", zap.String("key", key), zap.Error(err))
		return false, 0, fmt.Errorf("failed to record rate limit hit: %w", err)
	}

	if err := s.client.Expire(ctx, redisKey, window); err != nil {
		util.Warn("Failed to set rate limit key expiry", zap.String("key", key), zap.Error(err))
	}

	return true, int(count) + 1, nil
}
