// Package balancer selects a pipeline for each request and folds attempt
// outcomes back into pipeline health, key-slot statistics, and provider
// circuits. Selection is score-based with an epsilon window so near-equal
// candidates keep their configured order.
package balancer

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/health"
	"github.com/omarluq/cc-router/internal/keypool"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Selection errors, surfaced to the handler as 503s.
var (
	ErrNoPipelineForCategory = errors.New("balancer: no pipeline for category")
	ErrNoEligiblePipeline    = errors.New("balancer: no eligible pipeline")
)

// Request priorities accepted via the priority override header.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Scoring constants. Lower scores win.
const (
	basePrimary     = 10.0
	baseBackup      = 20.0
	epsilon         = 1.0
	rateLimitWindow = 30 * time.Minute
	maxRateLimitPen = 30.0
	affinityBonus   = 8.0
)

// PickOptions tune one selection.
type PickOptions struct {
	// Priority is the request's priority override: high, normal, or low.
	Priority string
	// AffinityHint is a pipelineId the conversation previously used. It
	// lowers that candidate's score but never overrides eligibility.
	AffinityHint string
	// Exclude removes one pipelineId from consideration, used by the
	// handler's single re-pick after a failed attempt.
	Exclude string
}

// Balancer scores and selects pipelines for one assembly generation.
type Balancer struct {
	table    *assembler.RoutingTable
	keys     *keypool.Manager
	circuits *health.Circuits
	bus      *events.Bus

	window429   time.Duration
	windowError time.Duration

	health map[string]*pipelineHealth
}

// New builds a balancer over the assembly's routing table. Health records are
// created eagerly, one per pipeline, and are never added or removed afterwards
// so no map lock is needed.
func New(asm *assembler.Assembly, keys *keypool.Manager, circuits *health.Circuits, bus *events.Bus) *Balancer {
	healthByID := make(map[string]*pipelineHealth, len(asm.Table.Pipelines()))
	for _, p := range asm.Table.Pipelines() {
		healthByID[p.ID] = newPipelineHealth()
	}
	return &Balancer{
		table:       asm.Table,
		keys:        keys,
		circuits:    circuits,
		bus:         bus,
		window429:   asm.Blacklist.Window429(),
		windowError: asm.Blacklist.WindowError(),
		health:      healthByID,
	}
}

// Lease is a picked pipeline with its acquired key slot. Release must be
// called exactly once with the attempt's outcome.
type Lease struct {
	Pipeline *assembler.PipelineConfig
	Slot     *keypool.Slot

	b           *Balancer
	pool        *keypool.Pool
	circuitDone func(upstream.Outcome)
	released    bool
}

// Pick selects the best eligible pipeline for the category. When every
// in-category candidate is ineligible it rescues from the global pool; with
// no candidates anywhere it fails.
func (b *Balancer) Pick(category string, opts PickOptions) (*Lease, error) {
	ids := b.table.Candidates(category)
	if !b.table.HasCategory(category) || len(ids) == 0 {
		return nil, ErrNoPipelineForCategory
	}

	now := time.Now()
	if lease := b.pickFrom(ids, opts, now); lease != nil {
		return lease, nil
	}

	// Cross-category rescue, only reached when the whole category failed.
	if lease := b.pickFrom(b.table.GlobalPool(), opts, now); lease != nil {
		log.Warn().
			Str("category", category).
			Str("pipeline", lease.Pipeline.ID).
			Msg("category exhausted, rescued from global pool")
		return lease, nil
	}

	return nil, ErrNoEligiblePipeline
}

// candidate pairs a pipeline with its computed score.
type candidate struct {
	pipeline *assembler.PipelineConfig
	score    float64
}

// pickFrom scores the eligible subset of ids and acquires the winner.
// Returns nil when nothing is eligible or every acquire attempt loses a race.
func (b *Balancer) pickFrom(ids []string, opts PickOptions, now time.Time) *Lease {
	eligible := make([]candidate, 0, len(ids))
	best := 0.0

	for _, id := range ids {
		if id == opts.Exclude {
			continue
		}
		p, ok := b.table.Lookup(id)
		if !ok {
			continue
		}
		if h, ok := b.health[id]; ok && !h.eligible(now) {
			continue
		}
		if b.circuits.Open(p.Provider) {
			continue
		}
		pool, err := b.keys.Pool(p.Provider)
		if err != nil || !pool.Available(p.KeyIndex) {
			continue
		}
		stats, ok := pool.Snapshot(p.KeyIndex)
		if !ok {
			continue
		}

		s := score(stats, opts.Priority, now)
		if id == opts.AffinityHint {
			s -= affinityBonus
			if s < 0 {
				s = 0
			}
		}
		if len(eligible) == 0 || s < best {
			best = s
		}
		eligible = append(eligible, candidate{pipeline: p, score: s})
	}

	// First candidate within epsilon of the best wins; on acquire races the
	// remainder is retried in score order.
	for i, c := range eligible {
		if c.score <= best+epsilon {
			if lease := b.acquire(c.pipeline); lease != nil {
				return lease
			}
			eligible = append(eligible[:i], eligible[i+1:]...)
			break
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].score < eligible[j].score })
	for _, c := range eligible {
		if lease := b.acquire(c.pipeline); lease != nil {
			return lease
		}
	}
	return nil
}

// acquire reserves the circuit and key slot for a scored winner.
func (b *Balancer) acquire(p *assembler.PipelineConfig) *Lease {
	done, ok := b.circuits.Allow(p.Provider)
	if !ok {
		return nil
	}
	pool, err := b.keys.Pool(p.Provider)
	if err != nil {
		done(upstream.OutcomeFatal)
		return nil
	}
	slot, err := pool.Acquire(p.KeyIndex)
	if err != nil {
		// Not the provider's fault; settle the probe as ok.
		done(upstream.OutcomeOK)
		return nil
	}
	return &Lease{
		Pipeline:    p,
		Slot:        slot,
		b:           b,
		pool:        pool,
		circuitDone: done,
	}
}

// Cancel frees the lease without recording an outcome, for requests that
// fail before reaching the upstream for reasons the pipeline cannot help,
// such as malformed client input.
func (l *Lease) Cancel() {
	if l.released {
		return
	}
	l.released = true
	l.pool.Cancel(l.Pipeline.KeyIndex)
	l.circuitDone(upstream.OutcomeOK)
}

// Release settles the lease: key-slot statistics, circuit probe, pipeline
// health, and an outcome event.
func (l *Lease) Release(outcome upstream.Outcome, latency time.Duration) {
	if l.released {
		return
	}
	l.released = true

	l.pool.Release(l.Pipeline.KeyIndex, outcome, latency)
	l.circuitDone(outcome)

	now := time.Now()
	h, ok := l.b.health[l.Pipeline.ID]
	if !ok {
		return
	}
	status, blacklisted, until, recovered := h.record(outcome, now, l.b.window429, l.b.windowError)

	l.b.bus.Publish(events.Event{
		Kind:       events.KindOutcomeRecorded,
		Provider:   l.Pipeline.Provider,
		PipelineID: l.Pipeline.ID,
		Category:   l.Pipeline.Category,
		KeyID:      l.Slot.KeyID(),
		Outcome:    string(outcome),
		Detail:     status,
	})

	if blacklisted {
		log.Warn().
			Str("pipeline", l.Pipeline.ID).
			Str("outcome", string(outcome)).
			Time("until", until).
			Msg("pipeline blacklisted")
		l.b.bus.Publish(events.Event{
			Kind:       events.KindPipelineBlacklisted,
			Provider:   l.Pipeline.Provider,
			PipelineID: l.Pipeline.ID,
			Outcome:    string(outcome),
			Until:      until,
		})
	}

	if recovered {
		log.Info().
			Str("pipeline", l.Pipeline.ID).
			Msg("pipeline recovered")
		l.b.bus.Publish(events.Event{
			Kind:       events.KindPipelineRecovered,
			Provider:   l.Pipeline.Provider,
			PipelineID: l.Pipeline.ID,
		})
	}
}

// Health returns the health snapshot for one pipeline.
func (b *Balancer) Health(pipelineID string) (HealthStats, bool) {
	h, ok := b.health[pipelineID]
	if !ok {
		return HealthStats{}, false
	}
	return h.snapshot(), true
}

// score implements the selection formula. Base depends on the slot's priority
// class, modified by the request's priority override; the remaining terms
// penalize recent failures, rate limits, and slow responses.
func score(st keypool.Stats, priority string, now time.Time) float64 {
	base := baseBackup
	if st.Priority == keypool.PriorityPrimary {
		base = basePrimary
	}
	switch priority {
	case PriorityHigh:
		if st.Priority == keypool.PriorityPrimary {
			base *= 0.5
		}
	case PriorityLow:
		if st.Priority == keypool.PriorityBackup {
			base *= 0.8
		}
	}

	return base +
		(1-st.SuccessRate())*100 +
		rateLimitPenalty(st.LastRateLimit, now) +
		float64(st.ConsecutiveFailures)*5 +
		st.AvgResponseMs/100
}

// rateLimitPenalty decays linearly from 30 to 0 over the half hour after the
// slot's last 429.
func rateLimitPenalty(lastRateLimit time.Time, now time.Time) float64 {
	if lastRateLimit.IsZero() {
		return 0
	}
	elapsed := now.Sub(lastRateLimit)
	if elapsed >= rateLimitWindow {
		return 0
	}
	return maxRateLimitPen * (1 - float64(elapsed)/float64(rateLimitWindow))
}
