package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter answers whether a caller identified by key may proceed.
type rateLimiter interface {
	Allow(key string) bool
}

type rateWindow struct {
	count int
	reset time.Time
}

// simpleRateLimiter keeps a fixed-window counter per key. It is meant
// for webhook endpoints where a coarse per-address bound is enough.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]rateWindow
}

// newSimpleRateLimiter returns nil when limit or window is non-positive,
// which callers treat as "no limiting".
func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		now:     clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, k)
		}
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.windows[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	l.windows[key] = w
	return true
}
