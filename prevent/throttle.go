package prevent

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Throttler maintains per-target rate limits with their own expiry. The
// limiter cache is explicitly bounded and injected at construction; entries
// expire after the configured TTL or are evicted least-recently-used when the
// cache is full.
type Throttler struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	ttl      time.Duration
	limit    rate.Limit
	burst    int
}

// NewThrottler creates a throttler. Each installed limiter allows
// ratePerSecond events with the given burst and expires ttl after its last
// install or refresh.
func NewThrottler(maxEntries int, ttl time.Duration, ratePerSecond float64, burst int) *Throttler {
	return &Throttler{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxEntries, nil, ttl),
		ttl:      ttl,
		limit:    rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

// Throttle installs a rate limit for the target, or refreshes the expiry of an
// existing one. Reports whether a limit was already in place.
func (t *Throttler) Throttle(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, existed := t.limiters.Get(target)
	if !existed {
		limiter = rate.NewLimiter(t.limit, t.burst)
	}
	// Add re-inserts the entry, resetting its expiry.
	t.limiters.Add(target, limiter)
	return existed
}

// Allow reports whether the target may proceed. Unthrottled targets always may.
func (t *Throttler) Allow(target string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters.Get(target)
	t.mu.Unlock()

	if !ok {
		return true
	}
	return limiter.Allow()
}

// IsThrottled reports whether a rate limit is currently installed for the target.
func (t *Throttler) IsThrottled(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.limiters.Peek(target)
	return ok
}

// Size returns the number of active rate-limit records.
func (t *Throttler) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiters.Len()
}
