package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests with a token bucket and tracks the
// used-weight header the exchange returns.
type RateLimiter struct {
	bucket *rate.Limiter
	log    zerolog.Logger

	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewRateLimiter creates a limiter.
// rps/burst: client-side pacing; weightLimit: exchange weight budget per resetInterval.
func NewRateLimiter(rps float64, burst, weightLimit int, resetInterval time.Duration, log zerolog.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		bucket:        rate.NewLimiter(rate.Limit(rps), burst),
		log:           log,
		limit:         weightLimit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until a request may be sent. Near the weight budget it also
// waits out the rest of the window.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	if rl.ShouldDelay() {
		rl.mu.RLock()
		remaining := rl.resetInterval - time.Since(rl.lastReset)
		rl.mu.RUnlock()
		if remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return rl.bucket.Wait(ctx)
}

// UpdateFromHeader updates the used weight from the X-MBX-USED-WEIGHT-1M header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if rl == nil || headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	if rl.limit <= 0 {
		return
	}
	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 95 {
		rl.log.Error().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rate limit critical")
	} else if pct >= 80 {
		rl.log.Warn().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rate limit warning")
	}
}

// Usage returns current weight usage.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval || rl.limit <= 0 {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay reports whether the weight budget is nearly exhausted.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
