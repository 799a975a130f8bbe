package source

import (
	"sync"
	"time"
)

// Limiter enforces a minimum spacing between upstream requests. It is
// a pacing limiter, not a token bucket: upstream chart APIs meter
// sustained request rates, and steady spacing avoids burst-then-starve
// behavior under their quotas.
type Limiter struct {
	mu      sync.Mutex
	spacing time.Duration
	next    time.Time
}

// NewLimiter creates a limiter from a requests-per-minute budget. A
// non-positive budget disables pacing.
func NewLimiter(requestsPerMinute int) *Limiter {
	l := &Limiter{}
	if requestsPerMinute > 0 {
		l.spacing = time.Minute / time.Duration(requestsPerMinute)
	}
	return l
}

// Acquire blocks until the next request slot. The first call never
// blocks.
func (l *Limiter) Acquire() {
	if l.spacing <= 0 {
		return
	}

	l.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if now.Before(l.next) {
		wait = l.next.Sub(now)
	}
	// Reserve this caller's slot before sleeping so concurrent callers
	// queue behind it instead of piling onto the same slot.
	l.next = now.Add(wait + l.spacing)
	l.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// Spacing returns the configured gap between requests.
func (l *Limiter) Spacing() time.Duration {
	return l.spacing
}
