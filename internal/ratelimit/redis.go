package ratelimit

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisLimiter shares fixed-window counters across replicas via Redis
// INCR/EXPIRE. On any Redis error it fails open: a gateway that cannot reach
// Redis should degrade to unlimited, not reject traffic.
type redisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis constructs a Redis-backed Limiter and verifies connectivity.
func NewRedis(addr, password string, db int, logger *slog.Logger) (Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisLimiter{
		client:  client,
		logger:  logger,
		prefix:  "opsgate:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (rl *redisLimiter) Check(key string, limit int, window time.Duration) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return Decision{Allowed: true, Remaining: limit, ResetAt: time.Now().Add(window), Limit: limit}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}

	remaining := limit - int(counter)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(counter) <= limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
		Limit:     limit,
	}
}

func (rl *redisLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
