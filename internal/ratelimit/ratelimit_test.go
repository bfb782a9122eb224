package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAllowsUnderLimit(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store, 3, time.Minute)

	for i := 1; i <= 3; i++ {
		allowed, count, err := limiter.Allow(context.Background(), "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}
}

func TestMemoryStoreDeniesOverLimit(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store, 2, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, count, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, count)
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store, 1, time.Minute)

	ctx := context.Background()
	allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed, "a different key has its own window")
}

func TestMemoryStoreWindowSlides(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	limiter := NewLimiter(store, 1, time.Minute)
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)

	current = current.Add(61 * time.Second)

	allowed, _, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed, "old hits age out of the window")
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	_, _, err := store.Allow(ctx, "ip:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	store.Prune(time.Minute)

	store.mu.Lock()
	_, exists := store.hits["ip:1.2.3.4"]
	store.mu.Unlock()
	assert.False(t, exists, "expired keys are dropped")
}
