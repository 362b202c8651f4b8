// Package lock provides a Redis lease so that only one process runs a given
// sweep at a time when several reviewflow instances share a database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mtlprog/reviewflow/internal/config"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease grants named, expiring leases backed by SET NX PX.
type RedisLease struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	owner  string
}

// Connect opens a Redis client for cfg and checks it answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	slog.Info("connected to redis", "addr", cfg.Addr)
	return rdb, nil
}

// NewRedisLease creates a lease holder with a unique owner token.
func NewRedisLease(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func (l *RedisLease) key(name string) string {
	return l.prefix + ":lease:" + name
}

// Acquire takes the lease for name. It returns false if another owner holds it.
func (l *RedisLease) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(name), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// Release gives the lease back if this holder still owns it.
func (l *RedisLease) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{l.key(name)}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
