package ratelimit

import (
	"context"
	"time"
)

// Store counts hits for a key inside a sliding window and reports whether
// the key is still under the limit.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// Limiter applies a sliding window limit to caller-supplied keys. When the
// store fails the request is allowed: losing rate limiting briefly is better
// than taking authentication down with it.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	return l.store.Allow(ctx, key, l.limit, l.window)
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}
