// Package ratelimit provides the token-bucket request gate used by key slots.
//
// The bucket uses golang.org/x/time/rate with burst equal to the per-minute
// limit, so a full minute's capacity can be consumed immediately and refills
// smoothly. This avoids the boundary burst problem of fixed windows.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// unlimitedRate stands in for "no limit configured".
const unlimitedRate = 1_000_000

// Bucket is a requests-per-minute token bucket.
// All methods are safe for concurrent use.
type Bucket struct {
	limiter *rate.Limiter
	rpm     int
	mu      sync.RWMutex
}

// NewBucket creates a bucket allowing rpm requests per minute.
// Zero or negative rpm means unlimited.
func NewBucket(rpm int) *Bucket {
	if rpm <= 0 {
		rpm = unlimitedRate
	}
	return &Bucket{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		rpm:     rpm,
	}
}

// Allow reports whether one request may proceed now, consuming a token if so.
func (b *Bucket) Allow() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limiter.Allow()
}

// SetLimit replaces the per-minute limit, e.g. after learning the real limit
// from upstream rate-limit headers.
func (b *Bucket) SetLimit(rpm int) {
	if rpm <= 0 {
		rpm = unlimitedRate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	b.rpm = rpm
}

// Remaining approximates the tokens currently available.
func (b *Bucket) Remaining() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tokens := int(b.limiter.Tokens())
	if tokens < 0 {
		return 0
	}
	if tokens > b.rpm {
		return b.rpm
	}
	return tokens
}

// Limit returns the configured per-minute limit.
func (b *Bucket) Limit() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rpm
}
