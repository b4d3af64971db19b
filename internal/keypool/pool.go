package keypool

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Pool errors.
var (
	ErrUnknownSlot     = errors.New("keypool: unknown key index")
	ErrSlotUnavailable = errors.New("keypool: key slot unavailable")
	ErrUnknownProvider = errors.New("keypool: unknown provider")
)

// Pool holds the key slots of one provider.
type Pool struct {
	provider string
	slots    []*Slot
	bus      *events.Bus
}

// NewPool builds the slot set for one provider. One slot per configured key.
func NewPool(cfg config.ProviderConfig, bus *events.Bus) *Pool {
	slots := make([]*Slot, 0, len(cfg.APIKeys))
	for i, key := range cfg.APIKeys {
		slots = append(slots, newSlot(i, key, cfg.MaxConcurrent, cfg.RPMLimit))
	}
	return &Pool{provider: cfg.Name, slots: slots, bus: bus}
}

// Provider returns the owning provider name.
func (p *Pool) Provider() string { return p.provider }

// Slot returns the slot at index.
func (p *Pool) Slot(index int) (*Slot, bool) {
	if index < 0 || index >= len(p.slots) {
		return nil, false
	}
	return p.slots[index], true
}

// Acquire reserves the slot at index for one request.
func (p *Pool) Acquire(index int) (*Slot, error) {
	slot, ok := p.Slot(index)
	if !ok {
		return nil, ErrUnknownSlot
	}
	if !slot.acquire(time.Now()) {
		return nil, ErrSlotUnavailable
	}
	return slot, nil
}

// Release records the outcome for the slot at index and frees it.
func (p *Pool) Release(index int, outcome upstream.Outcome, latency time.Duration) {
	slot, ok := p.Slot(index)
	if !ok {
		return
	}
	now := time.Now()
	slot.release(outcome, latency, now)

	if outcome == upstream.OutcomeRateLimited {
		stats := slot.snapshot()
		log.Warn().
			Str("provider", p.provider).
			Str("key", slot.KeyID()).
			Time("cooldown_until", stats.CooldownUntil).
			Msg("key slot rate limited")
		p.bus.Publish(events.Event{
			Kind:     events.KindKeyCooldown,
			Provider: p.provider,
			KeyID:    slot.KeyID(),
			Outcome:  string(outcome),
			Until:    stats.CooldownUntil,
		})
	}
}

// Cancel frees the slot at index without recording an outcome.
func (p *Pool) Cancel(index int) {
	if slot, ok := p.Slot(index); ok {
		slot.cancel()
	}
}

// Available reports whether the slot at index could take a request now.
// It does not consume a rate-limit token.
func (p *Pool) Available(index int) bool {
	slot, ok := p.Slot(index)
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.available(time.Now()) && slot.bucket.Remaining() > 0
}

// Snapshot copies the counters of the slot at index.
func (p *Pool) Snapshot(index int) (Stats, bool) {
	slot, ok := p.Slot(index)
	if !ok {
		return Stats{}, false
	}
	return slot.snapshot(), true
}

// Snapshots copies the counters of every slot.
func (p *Pool) Snapshots() []Stats {
	out := make([]Stats, 0, len(p.slots))
	for _, slot := range p.slots {
		out = append(out, slot.snapshot())
	}
	return out
}

// Manager owns one pool per provider for the lifetime of an assembly.
type Manager struct {
	pools map[string]*Pool
}

// NewManager builds pools for every provider in the map.
func NewManager(providers map[string]config.ProviderConfig, bus *events.Bus) *Manager {
	pools := make(map[string]*Pool, len(providers))
	for name, cfg := range providers {
		pools[name] = NewPool(cfg, bus)
	}
	return &Manager{pools: pools}
}

// Pool returns the pool for a provider.
func (m *Manager) Pool(provider string) (*Pool, error) {
	pool, ok := m.pools[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return pool, nil
}
