// Package keypool tracks per-key usage state for each provider: in-flight
// counts, rate-limit cooldowns, rolling latency, and success statistics. The
// load balancer consults slot snapshots when scoring pipelines, and the proxy
// acquires a slot for the duration of each upstream call.
package keypool

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/omarluq/cc-router/internal/ratelimit"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Slot priorities. The first key of a provider is the primary; the rest are
// backups that score slightly better under low-priority requests.
const (
	PriorityBackup  = 0
	PriorityPrimary = 2
)

// Cooldown tuning.
const (
	base429Cooldown  = 5 * time.Second
	max429Cooldown   = 10 * time.Minute
	transientBackoff = 100 * time.Millisecond
	maxTransientExp  = 10
)

// Slot is the usage state of one API key. All fields behind mu.
type Slot struct {
	mu sync.Mutex

	index    int
	keyID    string
	apiKey   string
	priority int

	maxConcurrent int
	bucket        *ratelimit.Bucket

	total               int64
	successes           int64
	rateLimited         int64
	consecutiveFailures int
	cooldownUntil       time.Time
	lastSuccess         time.Time
	lastRateLimit       time.Time
	avgResponseMs       float64
	inUse               int
}

// newSlot builds the slot for one key index.
func newSlot(index int, apiKey string, maxConcurrent, rpm int) *Slot {
	priority := PriorityBackup
	if index == 0 {
		priority = PriorityPrimary
	}
	return &Slot{
		index:         index,
		keyID:         digest(apiKey),
		apiKey:        apiKey,
		priority:      priority,
		maxConcurrent: maxConcurrent,
		bucket:        ratelimit.NewBucket(rpm),
	}
}

// digest derives the loggable identifier for a key. The raw key never appears
// in logs, errors, or artifacts.
func digest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:8]
}

// KeyID returns the slot's 8-character key digest.
func (s *Slot) KeyID() string { return s.keyID }

// APIKey returns the raw key for the Authorization header.
func (s *Slot) APIKey() string { return s.apiKey }

// Priority returns the slot's priority class.
func (s *Slot) Priority() int { return s.priority }

// available reports whether the slot can take a request now, without
// consuming a rate-limit token. Caller holds mu.
func (s *Slot) available(now time.Time) bool {
	if now.Before(s.cooldownUntil) {
		return false
	}
	if s.maxConcurrent > 0 && s.inUse >= s.maxConcurrent {
		return false
	}
	return true
}

// acquire reserves the slot for one request, consuming a rate-limit token.
func (s *Slot) acquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available(now) {
		return false
	}
	if !s.bucket.Allow() {
		return false
	}
	s.inUse++
	s.total++
	return true
}

// cancel frees the reservation without recording an outcome, undoing the
// acquire's total increment so abandoned requests do not skew statistics.
func (s *Slot) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse > 0 {
		s.inUse--
	}
	if s.total > 0 {
		s.total--
	}
}

// release records the request outcome and frees the reservation.
func (s *Slot) release(outcome upstream.Outcome, latency time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse > 0 {
		s.inUse--
	}

	switch outcome {
	case upstream.OutcomeOK:
		s.successes++
		s.consecutiveFailures = 0
		s.cooldownUntil = time.Time{}
		s.lastSuccess = now
		s.observeLatency(latency)

	case upstream.OutcomeRateLimited:
		s.rateLimited++
		s.lastRateLimit = now
		s.cooldownUntil = now.Add(cooldown429(s.consecutiveFailures))
		s.consecutiveFailures++

	case upstream.OutcomeTimeout, upstream.OutcomeTransient:
		s.consecutiveFailures++
		s.cooldownUntil = now.Add(transientCooldown(s.consecutiveFailures))
		s.observeLatency(latency)

	case upstream.OutcomeFatal:
		// Fatal errors blacklist the pipeline; the key itself stays usable.
		s.consecutiveFailures++
	}
}

// observeLatency folds one sample into the rolling average. Caller holds mu.
func (s *Slot) observeLatency(latency time.Duration) {
	if latency <= 0 {
		return
	}
	ms := float64(latency.Milliseconds())
	if s.avgResponseMs == 0 {
		s.avgResponseMs = ms
		return
	}
	// Exponentially weighted so recent behavior dominates.
	s.avgResponseMs = s.avgResponseMs*0.8 + ms*0.2
}

// cooldown429 escalates the rate-limit cooldown by 1.5x per consecutive
// failure, clamped at ten minutes.
func cooldown429(consecutiveFailures int) time.Duration {
	d := time.Duration(float64(base429Cooldown) * math.Pow(1.5, float64(consecutiveFailures)))
	if d > max429Cooldown || d <= 0 {
		return max429Cooldown
	}
	return d
}

// transientCooldown backs off 100ms doubling per attempt.
func transientCooldown(attempt int) time.Duration {
	if attempt > maxTransientExp {
		attempt = maxTransientExp
	}
	return transientBackoff * time.Duration(1<<uint(attempt))
}

// Stats is a point-in-time copy of a slot's counters.
type Stats struct {
	Index               int
	KeyID               string
	Priority            int
	Total               int64
	Successes           int64
	RateLimited         int64
	ConsecutiveFailures int
	CooldownUntil       time.Time
	LastSuccess         time.Time
	LastRateLimit       time.Time
	AvgResponseMs       float64
	InUse               int
	RemainingTokens     int
}

// SuccessRate returns successes/total, or 1 when the slot is unused so new
// slots start with a clean score.
func (st Stats) SuccessRate() float64 {
	if st.Total == 0 {
		return 1
	}
	return float64(st.Successes) / float64(st.Total)
}

// snapshot copies the slot's counters.
func (s *Slot) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Index:               s.index,
		KeyID:               s.keyID,
		Priority:            s.priority,
		Total:               s.total,
		Successes:           s.successes,
		RateLimited:         s.rateLimited,
		ConsecutiveFailures: s.consecutiveFailures,
		CooldownUntil:       s.cooldownUntil,
		LastSuccess:         s.lastSuccess,
		LastRateLimit:       s.lastRateLimit,
		AvgResponseMs:       s.avgResponseMs,
		InUse:               s.inUse,
		RemainingTokens:     s.bucket.Remaining(),
	}
}
