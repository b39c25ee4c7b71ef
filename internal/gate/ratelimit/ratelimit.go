// Package ratelimit implements the per-tool sliding-window call limiter
// consulted first in the permission gate's request flow: each tool key
// gets a (max_calls, window_seconds) budget.
package ratelimit

import (
	"sync"
	"time"
)

// Limit pairs a call budget with the sliding window it applies over.
type Limit struct {
	MaxCalls int
	Window   time.Duration
}

// Defaults holds the built-in per-tool limits.
var Defaults = map[string]Limit{
	"terminal":   {MaxCalls: 20, Window: 300 * time.Second},
	"python_repl": {MaxCalls: 20, Window: 300 * time.Second},
	"fetch_url":  {MaxCalls: 30, Window: 300 * time.Second},
	"mcp_group":  {MaxCalls: 30, Window: 300 * time.Second},
}

// Limiter tracks call timestamps per key under a single sliding window.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	calls  map[string][]time.Time
	now    func() time.Time
}

// New constructs a Limiter. limits overrides Defaults; nil uses Defaults.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = Defaults
	}
	return &Limiter{limits: limits, calls: make(map[string][]time.Time), now: time.Now}
}

// Allow reports whether key may proceed, and if not, how long until it may
// (the "retry-after" value).
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok2 := l.limits[key]
	if !ok2 {
		return true, 0
	}
	now := l.now()
	cutoff := now.Add(-limit.Window)
	hist := l.calls[key]
	kept := hist[:0]
	for _, t := range hist {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit.MaxCalls {
		oldest := kept[0]
		retryAfter = limit.Window - now.Sub(oldest)
		l.calls[key] = kept
		return false, retryAfter
	}
	kept = append(kept, now)
	l.calls[key] = kept
	return true, 0
}
