// Package ratelimit bounds repeated attempts per key over a fixed window.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Limiter reports whether another attempt for key is allowed. An error means the limiter
// could not decide; callers treat it as a refusal.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Window is an in-process fixed-window counter. It is correct only for a single instance.
type Window struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]windowEntry
}

type windowEntry struct {
	count int
	reset time.Time
}

// NewWindow allows limit attempts per key in each window.
func NewWindow(limit int, window time.Duration, clock func() time.Time) *Window {
	if clock == nil {
		clock = time.Now
	}
	return &Window{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowEntry),
	}
}

// Allow implements Limiter.
func (l *Window) Allow(_ context.Context, key string) (bool, error) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, nil
	}
	key = normalizeKey(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.pruneExpiredLocked(now)
		l.store[key] = windowEntry{count: 1, reset: now.Add(l.window)}
		return true, nil
	}
	if entry.count >= l.limit {
		return false, nil
	}
	entry.count++
	l.store[key] = entry
	return true, nil
}

func (l *Window) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}
