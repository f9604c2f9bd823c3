// Package ratelimit provides per-credential sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the trailing interval over which requests are counted.
const Window = time.Hour

// DefaultRetention is how long an idle key's window is kept before a
// sweep may delete it.
const DefaultRetention = 2 * time.Hour

// Config configures the limiter.
type Config struct {
	// LimitPerHour is the default admission limit when a check does not
	// supply its own.
	LimitPerHour int `yaml:"limit_per_hour" json:"limit_per_hour"`
	// Retention is how long idle keys survive between sweeps.
	Retention time.Duration `yaml:"retention" json:"retention"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		LimitPerHour: 100,
		Retention:    DefaultRetention,
		Enabled:      true,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	CurrentCount int           `json:"current_count"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
}

// Limiter tracks request timestamps per key within the trailing window.
// Safe for concurrent use; many simultaneous queries share one instance
// keyed by credential.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	config  Config
	now     func() time.Time
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(config Config) *Limiter {
	if config.LimitPerHour <= 0 {
		config.LimitPerHour = DefaultConfig().LimitPerHour
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		config:  config,
		now:     time.Now,
	}
}

// Check admits or rejects a request for key under limitPerHour. Timestamps
// older than the window are pruned lazily on each check. On rejection,
// RetryAfter is the time until the oldest retained timestamp ages out.
// A limitPerHour of zero or less uses the configured default.
func (l *Limiter) Check(key string, limitPerHour int) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true}
	}
	if limitPerHour <= 0 {
		limitPerHour = l.config.LimitPerHour
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)

	window := l.windows[key]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= limitPerHour {
		l.windows[key] = pruned
		return Decision{
			Allowed:      false,
			CurrentCount: len(pruned),
			RetryAfter:   pruned[0].Sub(cutoff),
		}
	}

	l.windows[key] = append(pruned, now)
	return Decision{
		Allowed:      true,
		CurrentCount: len(pruned) + 1,
	}
}

// Count returns the number of requests for key within the trailing window.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-Window)
	count := 0
	for _, ts := range l.windows[key] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// Sweep removes keys whose newest timestamp is older than the retention
// window, bounding memory for credentials that stopped issuing requests.
// Returns the number of keys removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.Retention)
	removed := 0
	for key, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Reset clears the window for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
