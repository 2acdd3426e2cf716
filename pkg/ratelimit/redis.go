package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares windows across gateway replicas. When Redis fails it
// counts in Fallback, so pacing degrades to per-replica instead of off.
type RedisLimiter struct {
	Client   *redis.Client
	Window   time.Duration
	Prefix   string
	Timeout  time.Duration
	Fallback *InMemoryLimiter
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Window:   window,
		Prefix:   "ratelimit:user:",
		Timeout:  time.Second,
		Fallback: NewInMemory(window),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) Decision {
	limit = max(limit, 1)
	if l.Client == nil {
		return l.fallback(ctx, key, limit)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()
	res, err := windowScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Window.Milliseconds()).Result()
	if err != nil {
		log.Printf("ratelimit: redis unavailable, using local window: %v", err)
		return l.fallback(ctx, key, limit)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) < 2 {
		return l.fallback(ctx, key, limit)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.Window.Milliseconds()
	}
	return decide(int(count), limit, time.Now().UTC().Add(time.Duration(ttlMs)*time.Millisecond))
}

func (l *RedisLimiter) fallback(ctx context.Context, key string, limit int) Decision {
	if l.Fallback == nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now().UTC().Add(l.Window)}
	}
	return l.Fallback.Allow(ctx, key, limit)
}

func (l *RedisLimiter) timeout() time.Duration {
	if l.Timeout <= 0 {
		return time.Second
	}
	return l.Timeout
}
