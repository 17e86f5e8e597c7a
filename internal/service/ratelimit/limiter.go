// Package ratelimit enforces per-user cooldown windows backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

// Result is the outcome of a cooldown check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter records action timestamps in Redis and answers whether a
// cooldown window has elapsed. The check and the record are a single
// SET NX, so concurrent requests cannot both pass.
type Limiter struct {
	client *redis.Client
	log    *logger.Logger
}

// NewClient builds a Redis client from configuration.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewLimiter creates a limiter over an existing Redis client.
func NewLimiter(client *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// key namespaces cooldown entries by action and subject.
func key(action string, guildID, userID int64, subject string) string {
	return fmt.Sprintf("cooldown:%s:%d:%d:%s", action, guildID, userID, subject)
}

// CheckAndRecord atomically claims the cooldown slot for the given
// action and subject. If the slot is free it is recorded with the
// window as TTL and the action is allowed. If a prior claim is still
// live the action is denied with the remaining wait.
func (l *Limiter) CheckAndRecord(ctx context.Context, action string, guildID, userID int64, subject string, window time.Duration) (Result, error) {
	k := key(action, guildID, userID, subject)

	ok, err := l.client.SetNX(ctx, k, time.Now().Unix(), window).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to claim cooldown %s: %w", k, err)
	}
	if ok {
		return Result{Allowed: true}, nil
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read cooldown ttl %s: %w", k, err)
	}
	if ttl < 0 {
		// Key expired between the SETNX and the PTTL. Treat the
		// window as just elapsed rather than retrying.
		ttl = 0
	}

	l.log.Debug().
		Str("key", k).
		Dur("retry_after", ttl).
		Msg("Cooldown active, action denied")

	return Result{Allowed: false, RetryAfter: ttl}, nil
}

// Release frees a cooldown slot early. Used when the claimed action
// subsequently fails and the claim should not count.
func (l *Limiter) Release(ctx context.Context, action string, guildID, userID int64, subject string) error {
	k := key(action, guildID, userID, subject)
	if err := l.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("failed to release cooldown %s: %w", k, err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
