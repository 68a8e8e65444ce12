// Package ratelimiter throttles inbound adapter messages with a token bucket.
package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter admits messages at a sustained rate with bursts.
//
// A nil *RateLimiter admits everything, so callers can keep an unconfigured
// limiter in a field and call it unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting perSecond messages per second with the
// given burst. perSecond == 0 disables limiting and returns nil. A burst
// below one is raised to perSecond so the bucket can hold a full second.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst))}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Limit returns the sustained rate, or 0 when unlimited.
func (r *RateLimiter) Limit() float64 {
	if r == nil {
		return 0
	}
	return float64(r.limiter.Limit())
}

// Burst returns the bucket capacity, or 0 when unlimited.
func (r *RateLimiter) Burst() int {
	if r == nil {
		return 0
	}
	return r.limiter.Burst()
}
