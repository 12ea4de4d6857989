package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Minute

// Locker grants per-job exclusivity across cron worker replicas. unlock is
// only non-nil when ok is true.
type Locker interface {
	TryLock(ctx context.Context, job string) (unlock func(context.Context) error, ok bool, err error)
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLocker stores one key per job with a TTL, so a crashed holder frees the
// job after ttl at the latest.
type RedisLocker struct {
	client redisStore
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redisStore, prefix string, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("cron: redis client required")
	}
	if prefix == "" {
		return nil, errors.New("cron: lock prefix required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}, nil
}

func (l *RedisLocker) key(job string) string {
	return l.prefix + ":" + job
}

func (l *RedisLocker) TryLock(ctx context.Context, job string) (func(context.Context) error, bool, error) {
	key := l.key(job)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("cron: lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		return l.release(ctx, key, token)
	}, true, nil
}

// release deletes key only while it still carries token; an expired lock
// that another worker re-took is left alone.
func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	current, err := l.client.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("cron: read lock %s: %w", key, err)
	case current != token:
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("cron: unlock %s: %w", key, err)
	}
	return nil
}
