// Package ratelimit paces requests per authenticated user with fixed
// windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	return max(d.ResetAt.Sub(now), time.Second)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]window
	Now    func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(d time.Duration) *InMemoryLimiter {
	if d <= 0 {
		d = time.Minute
	}
	return &InMemoryLimiter{window: d, items: make(map[string]window), Now: time.Now}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, key string, limit int) Decision {
	limit = max(limit, 1)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.items {
		if !now.Before(w.resetAt) {
			delete(l.items, k)
		}
	}
	w, ok := l.items[key]
	if !ok {
		w = window{resetAt: now.Add(l.window)}
	}
	w.count++
	l.items[key] = w
	return decide(w.count, limit, w.resetAt)
}

func (l *InMemoryLimiter) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func decide(count, limit int, resetAt time.Time) Decision {
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}
