package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type connLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-connection token bucket for outgoing chat messages
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*connLimiter
	r        rate.Limit
	burst    int
	ttl      time.Duration
	cancel   context.CancelFunc
}

// NewRateLimiter allows perSecond messages per connection with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	r := rate.Inf
	if perSecond > 0 {
		r = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters: make(map[string]*connLimiter),
		r:        r,
		burst:    burst,
		ttl:      10 * time.Minute,
		cancel:   cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow reports whether connID may send another message now
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[connID]
	if !ok {
		entry = &connLimiter{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.limiters[connID] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Forget drops connID's bucket
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	delete(rl.limiters, connID)
	rl.mu.Unlock()
}

// Stop shuts down the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

// cleanup evicts buckets of connections that went quiet without a disconnect
func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for connID, entry := range rl.limiters {
				if time.Since(entry.lastSeen) > rl.ttl {
					delete(rl.limiters, connID)
				}
			}
			rl.mu.Unlock()
		}
	}
}
