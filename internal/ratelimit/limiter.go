// Package ratelimit throttles expensive operations per identity.
//
// Each identity keeps a log of its accepted calls over the last Interval; a
// call succeeds only while fewer than Limit calls are in that log, so no
// Interval-long span ever admits more than Limit calls. The number of tracked
// identities is capped, evicting the least recently used one, so identity
// churn cannot grow memory without bound. State is process-local.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Config controls the limiter.
type Config struct {
	// Interval is the length of the sliding window.
	Interval time.Duration
	// Limit is the number of calls allowed per identity in any window.
	Limit int
	// MaxIdentities bounds how many identities are tracked at once.
	MaxIdentities int
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.MaxIdentities <= 0 {
		c.MaxIdentities = 500
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// callLog holds the accepted call times of one identity, oldest first.
type callLog struct {
	times []time.Time
}

// prune drops calls that fell out of the window ending at now.
func (b *callLog) prune(now time.Time, interval time.Duration) {
	cutoff := now.Add(-interval)
	i := 0
	for i < len(b.times) && !b.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.times = append(b.times[:0], b.times[i:]...)
	}
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu  sync.Mutex
	lru *simplelru.LRU[string, *callLog]
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	cfg.defaults()
	// NewLRU only fails for a non-positive size, which defaults rule out.
	lru, _ := simplelru.NewLRU[string, *callLog](cfg.MaxIdentities, nil)
	return &Limiter{cfg: cfg, lru: lru}
}

// Allow records an attempt for identity and reports whether it is within
// the limit. Rejected attempts are not logged.
func (l *Limiter) Allow(identity string) bool {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.lru.Get(identity)
	if !ok {
		b = &callLog{times: make([]time.Time, 0, l.cfg.Limit)}
		l.lru.Add(identity, b)
	}
	b.prune(now, l.cfg.Interval)
	if len(b.times) >= l.cfg.Limit {
		return false
	}
	b.times = append(b.times, now)
	return true
}

// Remaining returns how many calls identity may make right now.
func (l *Limiter) Remaining(identity string) int {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.lru.Peek(identity)
	if !ok {
		return l.cfg.Limit
	}
	b.prune(now, l.cfg.Interval)
	return l.cfg.Limit - len(b.times)
}

// ResetAt returns when identity's oldest logged call leaves the window and
// frees a slot, or the zero time if nothing is logged for it.
func (l *Limiter) ResetAt(identity string) time.Time {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.lru.Peek(identity)
	if !ok {
		return time.Time{}
	}
	b.prune(now, l.cfg.Interval)
	if len(b.times) == 0 {
		return time.Time{}
	}
	return b.times[0].Add(l.cfg.Interval)
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// RetryAfter returns how long identity must wait before a call can succeed.
func (l *Limiter) RetryAfter(identity string) time.Duration {
	reset := l.ResetAt(identity)
	if reset.IsZero() || l.Remaining(identity) > 0 {
		return 0
	}
	return reset.Sub(l.cfg.Now())
}
