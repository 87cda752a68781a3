package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements per-client token-bucket admission control.
// Admit never blocks; the caller decides whether to drop, queue, or
// answer with a throttling notice.
type Limiter struct {
	refillPerSec float64
	burst        float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewLimiter creates a limiter allowing ratePerMinute sustained requests
// per client with the given burst capacity.
func NewLimiter(ratePerMinute, burst int) *Limiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		refillPerSec: float64(ratePerMinute) / 60.0,
		burst:        float64(burst),
		buckets:      make(map[string]*bucket),
	}
}

// Admit refills the client's bucket for the elapsed time, then attempts to
// consume one token. Returns false when insufficient tokens remain; the
// refill still applies.
func (l *Limiter) Admit(clientID string) bool {
	b := l.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(l.refillPerSec, l.burst)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter reports how long the client must wait before one token is
// available. Returns zero when a request would be admitted now.
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	b := l.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(l.refillPerSec, l.burst)

	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / l.refillPerSec * float64(time.Second))
}

// Forget drops the client's bucket state, releasing it on disconnect.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, clientID)
}

// Tokens returns the current token count for a client, for inspection.
func (l *Limiter) Tokens(clientID string) float64 {
	b := l.bucketFor(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(l.refillPerSec, l.burst)
	return b.tokens
}

func (l *Limiter) bucketFor(clientID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[clientID]
	if !ok {
		// New clients start with a full bucket
		b = &bucket{tokens: l.burst, lastRefill: time.Now()}
		l.buckets[clientID] = b
	}
	return b
}

// refill credits tokens proportional to elapsed time, capped at burst.
// Caller must hold b.mu.
func (b *bucket) refill(refillPerSec, burst float64) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * refillPerSec
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastRefill = now
}
