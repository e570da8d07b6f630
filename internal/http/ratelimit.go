package http

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
	defaultLimiterBurst  = 5
)

// RateLimiter keeps one token bucket per client IP. A zero rate disables it.
type RateLimiter struct {
	rpm   int
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rpm requests per minute per client with the given
// burst. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = defaultLimiterBurst
	}
	rl := &RateLimiter{burst: burst, clients: make(map[string]*clientBucket)}
	if rpm > 0 {
		rl.rpm = rpm
		rl.limit = rate.Limit(float64(rpm) / 60.0)
	}
	return rl
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl.limit > 0
}

// Allow spends one token for client.
func (rl *RateLimiter) Allow(client string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = time.Now()
	allowed := b.limiter.Allow()
	rl.mu.Unlock()

	if !allowed {
		slog.Warn("security.rate_limited", "client", client)
	}
	return allowed
}

// RetryAfter is the time until one token refills, rounded up to a second.
func (rl *RateLimiter) RetryAfter() time.Duration {
	if !rl.Enabled() {
		return 0
	}
	return time.Duration((60+rl.rpm-1)/rl.rpm) * time.Second
}

// Run drops buckets of clients idle for longer than limiterIdleTTL until ctx
// is done. It returns at once when limiting is disabled.
func (rl *RateLimiter) Run(ctx context.Context) {
	if !rl.Enabled() {
		return
	}
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := rl.prune(now); n > 0 {
				slog.Debug("ratelimit.pruned", "clients", n)
			}
		}
	}
}

func (rl *RateLimiter) prune(now time.Time) int {
	cutoff := now.Add(-limiterIdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for client, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
