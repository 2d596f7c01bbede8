package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another process")

// Locker hands out short-lived Redis locks. Without a client every lock
// succeeds immediately and release is a no-op.
type Locker struct {
	client *redislock.Client
	prefix string
}

func NewLocker(rdb *redis.Client, prefix string) *Locker {
	if rdb == nil {
		return &Locker{prefix: prefix}
	}
	return &Locker{client: redislock.New(rdb), prefix: prefix}
}

// WithLock runs fn while holding name. fn's context is the caller's context.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if l.client == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, l.prefix+name, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return fmt.Errorf("%s: %w", name, ErrLocked)
		}
		return fmt.Errorf("failed to obtain lock %s: %w", name, err)
	}
	defer func() { _ = lock.Release(context.Background()) }()

	return fn(ctx)
}
