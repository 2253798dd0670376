package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Policy is a named sliding-window configuration. Callers pass the policy
// explicitly on every Admit call; there is no hidden default.
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
	// Penalty, when positive, blocks a subject for the whole duration after
	// a denial, without consulting the window.
	Penalty time.Duration
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy has no name")
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Penalty < 0 {
		return fmt.Errorf("penalty must not be negative, got %s", p.Penalty)
	}
	return nil
}

// Result reports an admission outcome. RetryAfter is only meaningful when
// Allowed is false: it is the time until the subject may be admitted again.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	requests     []time.Time
	violations   int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter tracks per-subject sliding windows. It is an owned, lock-protected
// store injected into handlers; state is process-local and rebuilt empty on
// restart.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// NewWithClock is for tests that need to control time.
func NewWithClock(now func() time.Time) *Limiter {
	l := New()
	l.now = now
	return l
}

// Admit evicts timestamps older than the policy window, then admits the call
// iff the remaining count is below the policy maximum. A denial counts as a
// violation and, if the policy carries a penalty, blocks the subject outright
// until the penalty elapses.
func (l *Limiter) Admit(subjectID string, p Policy) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	key := p.Name + ":" + subjectID
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.lastSeen = now

	// Fast rejection while under penalty. Every denial counts.
	if now.Before(e.blockedUntil) {
		e.violations++
		return Result{Allowed: false, RetryAfter: e.blockedUntil.Sub(now)}
	}

	cutoff := now.Add(-p.Window)
	kept := e.requests[:0]
	for _, t := range e.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.requests = kept

	if len(e.requests) >= p.MaxRequests {
		e.violations++
		retryAfter := e.requests[0].Sub(cutoff)
		if p.Penalty > 0 {
			e.blockedUntil = now.Add(p.Penalty)
			retryAfter = p.Penalty
		}
		return Result{Allowed: false, RetryAfter: retryAfter}
	}

	e.requests = append(e.requests, now)
	return Result{Allowed: true}
}

// Violations reports how many times a subject has been denied under a policy.
func (l *Limiter) Violations(subjectID string, p Policy) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[p.Name+":"+subjectID]; ok {
		return e.violations
	}
	return 0
}

// Cleanup drops entries idle for longer than maxIdle and returns how many
// were removed. Callers run it periodically; the limiter itself never spawns
// goroutines.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > maxIdle && now.After(e.blockedUntil) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
