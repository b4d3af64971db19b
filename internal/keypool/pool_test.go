package keypool

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/upstream"
)

func testPool(keys ...string) *Pool {
	return NewPool(config.ProviderConfig{
		Name:    "test",
		APIKeys: config.KeyList(keys),
	}, nil)
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	p := testPool("key-a", "key-b")

	slot, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.APIKey() != "key-a" {
		t.Errorf("wrong slot key")
	}

	stats, _ := p.Snapshot(0)
	if stats.InUse != 1 || stats.Total != 1 {
		t.Errorf("after acquire: %+v", stats)
	}

	p.Release(0, upstream.OutcomeOK, 50*time.Millisecond)
	stats, _ = p.Snapshot(0)
	if stats.InUse != 0 || stats.Successes != 1 || stats.ConsecutiveFailures != 0 {
		t.Errorf("after release: %+v", stats)
	}
	if stats.AvgResponseMs == 0 {
		t.Error("latency not recorded")
	}

	if _, err := p.Acquire(7); err != ErrUnknownSlot {
		t.Errorf("unknown index err = %v", err)
	}
}

func TestKeyDigestNeverRaw(t *testing.T) {
	t.Parallel()

	p := testPool("sk-very-secret-key")
	slot, _ := p.Slot(0)
	if slot.KeyID() == "sk-very-secret-key" || len(slot.KeyID()) != 8 {
		t.Errorf("key id = %q", slot.KeyID())
	}
}

func TestSlotPriorityAssignment(t *testing.T) {
	t.Parallel()

	p := testPool("first", "second", "third")
	for i, want := range []int{PriorityPrimary, PriorityBackup, PriorityBackup} {
		slot, _ := p.Slot(i)
		if slot.Priority() != want {
			t.Errorf("slot %d priority = %d, want %d", i, slot.Priority(), want)
		}
	}
}

func TestRateLimitCooldownBlocksSlot(t *testing.T) {
	t.Parallel()

	p := testPool("k")
	if _, err := p.Acquire(0); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(0, upstream.OutcomeRateLimited, 0)

	if p.Available(0) {
		t.Error("slot should be cooling down after 429")
	}
	if _, err := p.Acquire(0); err != ErrSlotUnavailable {
		t.Errorf("acquire during cooldown err = %v", err)
	}

	stats, _ := p.Snapshot(0)
	if stats.ConsecutiveFailures != 1 {
		t.Errorf("consecutiveFailures = %d", stats.ConsecutiveFailures)
	}
	if !stats.CooldownUntil.After(time.Now()) {
		t.Error("cooldownUntil not in the future")
	}
	if stats.LastRateLimit.IsZero() {
		t.Error("lastRateLimit not set")
	}
}

func TestCooldownEscalation(t *testing.T) {
	t.Parallel()

	if cooldown429(0) != base429Cooldown {
		t.Errorf("first cooldown = %v", cooldown429(0))
	}
	if cooldown429(1) <= cooldown429(0) || cooldown429(5) <= cooldown429(1) {
		t.Error("cooldown must escalate")
	}
	if cooldown429(100) != max429Cooldown {
		t.Errorf("unclamped cooldown: %v", cooldown429(100))
	}
}

func TestCooldownMonotonicityProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// After a 429 at time t the slot is unavailable for every instant before
	// cooldownUntil.
	properties.Property("unavailable throughout the cooldown window", prop.ForAll(
		func(priorFailures int, fractionPct int) bool {
			s := newSlot(0, "k", 0, 0)
			s.consecutiveFailures = priorFailures

			now := time.Now()
			s.release(upstream.OutcomeRateLimited, 0, now)

			window := s.cooldownUntil.Sub(now)
			probe := now.Add(window * time.Duration(fractionPct) / 100)
			s.mu.Lock()
			defer s.mu.Unlock()
			return !s.available(probe)
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 99),
	))

	properties.Property("escalation never exceeds the clamp", prop.ForAll(
		func(failures int) bool {
			return cooldown429(failures) <= max429Cooldown
		},
		gen.IntRange(0, 1_000),
	))

	properties.TestingRun(t)
}

func TestMaxConcurrentSaturation(t *testing.T) {
	t.Parallel()

	p := NewPool(config.ProviderConfig{
		Name:          "test",
		APIKeys:       config.KeyList{"k"},
		MaxConcurrent: 2,
	}, nil)

	for range 2 {
		if _, err := p.Acquire(0); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if _, err := p.Acquire(0); err != ErrSlotUnavailable {
		t.Errorf("saturated acquire err = %v", err)
	}

	p.Release(0, upstream.OutcomeOK, time.Millisecond)
	if _, err := p.Acquire(0); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestConcurrentStatisticsConverge(t *testing.T) {
	t.Parallel()

	p := testPool("k")
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if _, err := p.Acquire(0); err == nil {
					p.Release(0, upstream.OutcomeOK, time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()

	stats, _ := p.Snapshot(0)
	if stats.InUse != 0 {
		t.Errorf("inUse = %d after all releases", stats.InUse)
	}
	if stats.Total != stats.Successes {
		t.Errorf("total %d != successes %d", stats.Total, stats.Successes)
	}
}

func TestTransientBackoffAndRecovery(t *testing.T) {
	t.Parallel()

	s := newSlot(0, "k", 0, 0)
	now := time.Now()

	s.acquire(now)
	s.release(upstream.OutcomeTimeout, 0, now)
	if s.consecutiveFailures != 1 {
		t.Errorf("consecutiveFailures = %d", s.consecutiveFailures)
	}
	if !s.cooldownUntil.After(now) {
		t.Error("transient failure should back the slot off")
	}

	// Success clears failure state.
	later := s.cooldownUntil.Add(time.Millisecond)
	if !s.acquire(later) {
		t.Fatal("slot should be available after backoff")
	}
	s.release(upstream.OutcomeOK, time.Millisecond, later)
	if s.consecutiveFailures != 0 || !s.cooldownUntil.IsZero() {
		t.Errorf("success did not reset: cf=%d cooldown=%v", s.consecutiveFailures, s.cooldownUntil)
	}
}
