// Package health gates providers behind circuit breakers. A provider whose
// calls keep failing trips its breaker, which removes every pipeline of that
// provider from balancer eligibility until a probe succeeds.
package health

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Breaker tuning.
const (
	breakerMaxRequests = 3
	breakerInterval    = 60 * time.Second
	breakerTimeout     = 30 * time.Second
	breakerMinRequests = 5
	breakerFailureRate = 0.6
)

// Circuits holds one breaker per provider.
type Circuits struct {
	breakers map[string]*gobreaker.TwoStepCircuitBreaker[struct{}]
}

// NewCircuits builds breakers for the given provider names.
func NewCircuits(providers []string, bus *events.Bus) *Circuits {
	breakers := make(map[string]*gobreaker.TwoStepCircuitBreaker[struct{}], len(providers))
	for _, name := range providers {
		provider := name
		breakers[provider] = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        provider,
			MaxRequests: breakerMaxRequests,
			Interval:    breakerInterval,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < breakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRate
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("provider circuit state changed")
				bus.Publish(events.Event{
					Kind:     events.KindCircuitStateChanged,
					Provider: name,
					Detail:   from.String() + " -> " + to.String(),
				})
			},
		})
	}
	return &Circuits{breakers: breakers}
}

// Allow reports whether the provider accepts traffic. When it does, the
// returned done function must be called with the request outcome.
func (c *Circuits) Allow(provider string) (done func(upstream.Outcome), ok bool) {
	cb, exists := c.breakers[provider]
	if !exists {
		return func(upstream.Outcome) {}, true
	}
	report, err := cb.Allow()
	if err != nil {
		return nil, false
	}
	return func(outcome upstream.Outcome) {
		// Rate limits are a key-level condition, not provider sickness.
		if outcome == upstream.OutcomeOK || outcome == upstream.OutcomeRateLimited {
			report(nil)
			return
		}
		report(errors.New(string(outcome)))
	}, true
}

// Open reports whether the provider's breaker currently rejects traffic.
func (c *Circuits) Open(provider string) bool {
	cb, exists := c.breakers[provider]
	if !exists {
		return false
	}
	return cb.State() == gobreaker.StateOpen
}

// State returns the provider's breaker state as a string for status output.
func (c *Circuits) State(provider string) string {
	cb, exists := c.breakers[provider]
	if !exists {
		return "unknown"
	}
	return cb.State().String()
}
