package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MemoryRateLimiter is a fixed-window rate limiter backed by a local map.
// It serves single-instance deployments and tests; multi-instance
// deployments should use RedisRateLimiter instead.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (m *MemoryRateLimiter) ConsumeRateLimit(
	_ context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if m == nil || limit <= 0 || window <= 0 || scope == "" || subject == "" {
		return 0, 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := fmt.Sprintf("%s:%s", scope, subject)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
		// Opportunistic sweep of expired windows so the map does not grow
		// without bound between restarts.
		if len(m.windows) > 10_000 {
			for k, win := range m.windows {
				if !now.Before(win.resetAt) {
					delete(m.windows, k)
				}
			}
		}
	}
	w.count++

	retryAfter := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return w.count, retryAfter, nil
}
