// Package lock provides a cross-process mutex so only one scheduler works at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock: held by another process")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes leases with SET NX PX and releases them only when the
// stored token still matches.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisLocker(c *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{Client: c, TTL: ttl, Prefix: "giveaway:lock:"}
}

// Lock acquires key or returns ErrHeld. The returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	name := l.Prefix + key
	token := uuid.NewString()

	ok, err := l.Client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.Client, []string{name}, token).Err()
	}
	return release, nil
}

// Ping checks connectivity for health probes.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}
