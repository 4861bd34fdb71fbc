package resilience

import (
	"sync"
	"time"

	"github.com/sells-group/drawsync/internal/model"
)

// RequestLedger is the list of recent request times for one source, oldest
// first. Entries older than the longest window seen are pruned lazily.
type RequestLedger struct {
	times []time.Time
}

func (l *RequestLedger) prune(cutoff time.Time) {
	i := 0
	for i < len(l.times) && !l.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}

// Len returns the number of retained timestamps.
func (l *RequestLedger) Len() int {
	return len(l.times)
}

// RequestLimiter enforces per-source sliding-window request limits. It never
// blocks: callers ask CanRequest and skip the source when it says no.
type RequestLimiter struct {
	mu      sync.Mutex
	ledgers map[string]*RequestLedger
	windows map[string]time.Duration
	now     func() time.Time
}

// NewRequestLimiter creates an empty limiter using the wall clock.
func NewRequestLimiter() *RequestLimiter {
	return &RequestLimiter{
		ledgers: make(map[string]*RequestLedger),
		windows: make(map[string]time.Duration),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *RequestLimiter) WithClock(now func() time.Time) *RequestLimiter {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// CanRequest reports whether another request to sourceID fits inside limit:
// fewer than MaxRequests recorded within the trailing PerWindow.
func (r *RequestLimiter) CanRequest(sourceID string, limit model.RateLimit) bool {
	if limit.Unlimited() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limit.PerWindow > r.windows[sourceID] {
		r.windows[sourceID] = limit.PerWindow
	}
	l, ok := r.ledgers[sourceID]
	if !ok {
		return true
	}

	now := r.now()
	l.prune(now.Add(-r.windows[sourceID]))

	cutoff := now.Add(-limit.PerWindow)
	n := 0
	for _, ts := range l.times {
		if ts.After(cutoff) {
			n++
		}
	}
	return n < limit.MaxRequests
}

// Record appends a request for sourceID at the current time. Unlimited
// sources keep no ledger.
func (r *RequestLimiter) Record(sourceID string, limit model.RateLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit.Unlimited() {
		delete(r.ledgers, sourceID)
		return
	}
	if limit.PerWindow > r.windows[sourceID] {
		r.windows[sourceID] = limit.PerWindow
	}

	l, ok := r.ledgers[sourceID]
	if !ok {
		l = &RequestLedger{}
		r.ledgers[sourceID] = l
	}
	now := r.now()
	l.prune(now.Add(-r.windows[sourceID]))
	l.times = append(l.times, now)
}

// Count returns the number of retained requests for sourceID.
func (r *RequestLimiter) Count(sourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.ledgers[sourceID]; ok {
		return l.Len()
	}
	return 0
}

// Reset forgets all recorded requests for sourceID.
func (r *RequestLimiter) Reset(sourceID string) {
	r.mu.Lock()
	delete(r.ledgers, sourceID)
	r.mu.Unlock()
}
