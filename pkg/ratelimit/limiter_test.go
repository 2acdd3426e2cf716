package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewInMemory(time.Minute)
	limiter.Now = func() time.Time { return now }
	ctx := context.Background()

	first := limiter.Allow(ctx, "u-1", 2)
	if !first.Allowed || first.Count != 1 || first.Remaining != 1 {
		t.Fatalf("unexpected first decision: %+v", first)
	}
	second := limiter.Allow(ctx, "u-1", 2)
	if !second.Allowed || second.Count != 2 || second.Remaining != 0 {
		t.Fatalf("unexpected second decision: %+v", second)
	}
	third := limiter.Allow(ctx, "u-1", 2)
	if third.Allowed || third.Count != 3 || third.Remaining != 0 {
		t.Fatalf("unexpected third decision: %+v", third)
	}
	if other := limiter.Allow(ctx, "u-2", 2); !other.Allowed {
		t.Fatal("users must not share a window")
	}
	now = now.Add(time.Minute)
	reset := limiter.Allow(ctx, "u-1", 2)
	if !reset.Allowed || reset.Count != 1 {
		t.Fatalf("expected counter reset after window, got %+v", reset)
	}
}

func TestInMemoryLimiterDefaults(t *testing.T) {
	limiter := NewInMemory(0)
	if limiter.window != time.Minute {
		t.Fatalf("expected default window, got %v", limiter.window)
	}
	if d := limiter.Allow(context.Background(), "k", 0); !d.Allowed || d.Limit != 1 {
		t.Fatalf("expected limit floor of 1, got %+v", d)
	}
}

func TestDecisionRetryAfter(t *testing.T) {
	now := time.Now()
	if got := (Decision{Allowed: true}).RetryAfter(now); got != 0 {
		t.Fatalf("allowed decision retry = %v", got)
	}
	if got := (Decision{ResetAt: now.Add(30 * time.Second)}).RetryAfter(now); got != 30*time.Second {
		t.Fatalf("retry = %v", got)
	}
	if got := (Decision{ResetAt: now}).RetryAfter(now); got != time.Second {
		t.Fatalf("retry floor = %v", got)
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedis(client, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if d := limiter.Allow(ctx, "u-1", 2); !d.Allowed || d.Count != i {
			t.Fatalf("decision %d: %+v", i, d)
		}
	}
	third := limiter.Allow(ctx, "u-1", 2)
	if third.Allowed || third.Remaining != 0 {
		t.Fatalf("expected third request denied, got %+v", third)
	}
	if ttl := mr.TTL("ratelimit:user:u-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("window key ttl = %v", ttl)
	}
	mr.FastForward(time.Minute)
	if reset := limiter.Allow(ctx, "u-1", 2); !reset.Allowed || reset.Count != 1 {
		t.Fatalf("expected counter reset after window, got %+v", reset)
	}
}

func TestRedisLimiterPersistentKeyUsesWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedis(client, 500*time.Millisecond)
	if err := mr.Set(limiter.Prefix+"u-3", "1"); err != nil {
		t.Fatal(err)
	}
	d := limiter.Allow(context.Background(), "u-3", 10)
	if !d.ResetAt.After(time.Now().UTC()) {
		t.Fatalf("expected reset in the future, got %v", d.ResetAt)
	}
}

func TestRedisLimiterFallsBackWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
		MaxRetries:   0,
	})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedis(client, time.Minute)
	ctx := context.Background()
	if d := limiter.Allow(ctx, "u-1", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected local window on outage, got %+v", d)
	}
	if d := limiter.Allow(ctx, "u-1", 1); d.Allowed {
		t.Fatalf("local window must still enforce the limit, got %+v", d)
	}

	limiter.Fallback = nil
	if d := limiter.Allow(ctx, "u-1", 1); !d.Allowed || d.Count != 0 {
		t.Fatalf("expected permissive decision without fallback, got %+v", d)
	}
}

func TestRedisLimiterUnexpectedScriptResult(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	original := windowScript
	windowScript = redis.NewScript(`return {1}`)
	t.Cleanup(func() { windowScript = original })

	limiter := NewRedis(client, time.Second)
	if d := limiter.Allow(context.Background(), "u-2", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fallback first decision, got %+v", d)
	}
	if d := limiter.Allow(context.Background(), "u-2", 1); d.Allowed {
		t.Fatalf("expected fallback enforcement, got %+v", d)
	}
}
