// Package ratelimit enforces a minimum gap between outbound fetches.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tisorlawan/indonesian-media-crawler/internal/metrics"
)

// DefaultDelay is the minimum gap between fetch issuances.
const DefaultDelay = 50 * time.Millisecond

// Limiter serialises fetch issuance across all workers.
type Limiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// New creates a Limiter allowing one fetch per delay. A zero delay disables throttling.
func New(delay time.Duration) *Limiter {
	limit := rate.Every(delay)
	if delay <= 0 {
		limit = rate.Inf
		delay = 0
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
	}
}

// Delay reports the configured minimum gap.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}

// Throttle blocks until at least Delay has passed since the previous issuance, or ctx ends.
func (l *Limiter) Throttle(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
