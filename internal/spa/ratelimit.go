package spa

import (
	"net"
	"sync"
	"time"
)

// RateLimiter is a per-source-IP token bucket guarding C1 against a
// flood of malformed datagrams from one address monopolizing the
// digest-store lock (§5 resource discipline). This is implemented on
// the standard library alone: no token-bucket primitive appears in
// the example pack, and a handful of fields and a mutex is simpler
// than pulling in a dependency for it.
type RateLimiter struct {
	rate     float64 // tokens per second
	burst    float64
	mu       sync.Mutex
	buckets  map[string]*bucket
	lastSwept time.Time
	sweepEvery time.Duration

	now func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter builds a limiter allowing burst immediate packets per
// source IP, refilling at rate packets/second thereafter.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		buckets:    make(map[string]*bucket),
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
	}
}

// Allow reports whether a packet from addr may proceed, consuming one
// token if so.
func (rl *RateLimiter) Allow(addr net.IP) bool {
	if rl == nil {
		return true
	}

	key := addr.String()
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.last = now

	if rl.lastSwept.IsZero() {
		rl.lastSwept = now
	}
	if now.Sub(rl.lastSwept) > rl.sweepEvery {
		rl.sweep(now)
		rl.lastSwept = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have been idle long enough to be full
// again, bounding memory use under address churn. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.last) > rl.sweepEvery {
			delete(rl.buckets, k)
		}
	}
}
