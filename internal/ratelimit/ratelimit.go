// Copyright 2025 Certen Protocol
//
// Package ratelimit implements a per-device sliding-window submission
// limiter: each device gets its own bounded request timestamp window,
// checked and pruned on every call.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks a sliding window of submission timestamps per device.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]int64
	limit   int
	window  time.Duration
	now     func() time.Time
}

// Config configures a Limiter.
type Config struct {
	Limit  int
	Window time.Duration
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New constructs a Limiter. Config.Limit and Config.Window are stored on the
// Limiter but Allow does not read them: Allow enforces the limit and window
// passed to each call, and a non-positive limit or window there disables
// enforcement (Allow returns true).
func New(cfg Config) *Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		windows: make(map[string][]int64),
		limit:   cfg.Limit,
		window:  cfg.Window,
		now:     cfg.Now,
	}
}

// Allow reports whether deviceID may submit now, recording the attempt if
// so. Timestamps older than the window are pruned lazily on each call, so
// the map never grows unbounded for a steadily-submitting device.
func (l *Limiter) Allow(deviceID string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return true
	}
	now := l.now().UnixNano()
	cutoff := now - window.Nanoseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.windows[deviceID]
	kept := ts[:0]
	for _, t := range ts {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.windows[deviceID] = kept
		return false
	}
	kept = append(kept, now)
	l.windows[deviceID] = kept
	return true
}

// Reset clears the tracked window for deviceID, used when a device is
// deactivated and later reactivated.
func (l *Limiter) Reset(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, deviceID)
}
