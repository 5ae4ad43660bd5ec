package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrThrottled means the caller exhausted their attempt budget.
var ErrThrottled = errors.New("too many attempts")

// Throttle counts attempts per key in Redis with a rolling window. Used for
// login, signup, and password-reset abuse control; counters live outside the
// process so restarts and replicas share state.
type Throttle struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewThrottle creates a throttle allowing limit attempts per window.
func NewThrottle(rdb *redis.Client, prefix string, limit int, window time.Duration) *Throttle {
	return &Throttle{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow consumes one attempt for the key, returning ErrThrottled once the
// budget is spent. The window starts at the first attempt.
func (t *Throttle) Allow(ctx context.Context, key string) error {
	full := t.prefix + ":" + key
	count, err := t.rdb.Incr(ctx, full).Result()
	if err != nil {
		return fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.rdb.Expire(ctx, full, t.window).Err(); err != nil {
			return fmt.Errorf("throttle expire: %w", err)
		}
	}
	if count > int64(t.limit) {
		return ErrThrottled
	}
	return nil
}

// Reset clears the counter, e.g. after a successful login.
func (t *Throttle) Reset(ctx context.Context, key string) error {
	if err := t.rdb.Del(ctx, t.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}
