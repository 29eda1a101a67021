// Package ratelimit limits how often something may happen per key within a
// sliding time window.
package ratelimit

import (
	"sync"
	"time"
)

type keyWindow struct {
	events     []time.Time
	suppressed int
}

// Limiter allows at most Max events per key within Window.
type Limiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	now         func() time.Time
	keys        map[string]*keyWindow
	lastCleanup time.Time
}

// New returns a limiter allowing max events per key per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
		keys:   make(map[string]*keyWindow),
	}
}

// Allow records an event for key and reports whether it is within the limit.
// For allowed events it also returns how many events of key were rejected
// since the previous allowed one.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > 2*l.window {
		l.cleanupLocked(now.Add(-2 * l.window))
		l.lastCleanup = now
	}

	kw, ok := l.keys[key]
	if !ok {
		kw = &keyWindow{}
		l.keys[key] = kw
	}

	cutoff := now.Add(-l.window)
	valid := kw.events[:0]
	for _, t := range kw.events {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	kw.events = valid

	if len(kw.events) >= l.max {
		kw.suppressed++
		return false, 0
	}
	kw.events = append(kw.events, now)
	suppressed := kw.suppressed
	kw.suppressed = 0
	return true, suppressed
}

// Cleanup forgets keys without events after cutoff and returns how many were removed.
func (l *Limiter) Cleanup(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanupLocked(cutoff)
}

func (l *Limiter) cleanupLocked(cutoff time.Time) int {
	removed := 0
	for key, kw := range l.keys {
		recent := false
		for _, t := range kw.events {
			if t.After(cutoff) {
				recent = true
				break
			}
		}
		if !recent && kw.suppressed == 0 {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
