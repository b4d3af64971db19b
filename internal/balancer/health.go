package balancer

import (
	"sync"
	"time"

	"github.com/omarluq/cc-router/internal/upstream"
)

// Pipeline health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Thresholds for status transitions.
const (
	degradedThreshold  = 2
	unhealthyThreshold = 3
	recoveryThreshold  = 2
)

// pipelineHealth is the mutable health record of one pipeline.
type pipelineHealth struct {
	mu sync.Mutex

	status              string
	consecutiveFailures int
	successStreak       int
	blacklistedUntil    time.Time
	lastOutcome         upstream.Outcome
}

func newPipelineHealth() *pipelineHealth {
	return &pipelineHealth{status: StatusHealthy}
}

// eligible reports whether the pipeline may serve traffic now. An expired
// blacklist window downgrades to degraded rather than straight to healthy so
// one probe failure re-blacklists quickly.
func (h *pipelineHealth) eligible(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusUnhealthy {
		return true
	}
	if now.Before(h.blacklistedUntil) {
		return false
	}
	h.status = StatusDegraded
	h.successStreak = 0
	return true
}

// record applies one outcome and returns the status afterwards, whether the
// pipeline is inside a blacklist window, the window end, and whether this
// outcome restored the pipeline to healthy.
func (h *pipelineHealth) record(outcome upstream.Outcome, now time.Time, window429, windowError time.Duration) (status string, blacklisted bool, until time.Time, recovered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.status
	h.lastOutcome = outcome

	switch outcome {
	case upstream.OutcomeOK:
		h.consecutiveFailures = 0
		h.successStreak++
		if h.status == StatusDegraded && h.successStreak >= recoveryThreshold {
			h.status = StatusHealthy
		}
		if h.status == StatusUnhealthy {
			// A success after the window proves recovery.
			h.status = StatusHealthy
			h.blacklistedUntil = time.Time{}
		}

	case upstream.OutcomeRateLimited:
		h.successStreak = 0
		h.consecutiveFailures++
		if h.consecutiveFailures >= unhealthyThreshold {
			h.status = StatusUnhealthy
			h.blacklistedUntil = now.Add(window429)
		}

	case upstream.OutcomeTimeout, upstream.OutcomeTransient:
		h.successStreak = 0
		h.consecutiveFailures++
		if h.consecutiveFailures >= degradedThreshold && h.status == StatusHealthy {
			h.status = StatusDegraded
		}

	case upstream.OutcomeFatal:
		h.successStreak = 0
		h.consecutiveFailures++
		h.status = StatusUnhealthy
		h.blacklistedUntil = now.Add(windowError)
	}

	return h.status,
		h.status == StatusUnhealthy && now.Before(h.blacklistedUntil),
		h.blacklistedUntil,
		prev != StatusHealthy && h.status == StatusHealthy
}

// snapshot copies the record for status output.
func (h *pipelineHealth) snapshot() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthStats{
		Status:              h.status,
		ConsecutiveFailures: h.consecutiveFailures,
		SuccessStreak:       h.successStreak,
		BlacklistedUntil:    h.blacklistedUntil,
		LastOutcome:         string(h.lastOutcome),
	}
}

// HealthStats is a point-in-time copy of a pipeline's health record.
type HealthStats struct {
	Status              string    `json:"status"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	SuccessStreak       int       `json:"successStreak"`
	BlacklistedUntil    time.Time `json:"blacklistedUntil,omitzero"`
	LastOutcome         string    `json:"lastOutcome,omitempty"`
}
