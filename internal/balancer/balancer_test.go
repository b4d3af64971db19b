package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/health"
	"github.com/omarluq/cc-router/internal/keypool"
	"github.com/omarluq/cc-router/internal/upstream"
)

func testAssembly(t *testing.T) *assembler.Assembly {
	t.Helper()

	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{
				Name:    "cloud",
				BaseURL: "https://api.example.com/v1",
				APIKeys: config.KeyList{"cloud-key"},
				Models:  []config.ModelEntry{{Name: "big-model"}},
				Weight:  5,
			},
			{
				Name:    "lmstudio",
				BaseURL: "http://localhost:1234/v1",
				APIKeys: config.KeyList{"local-key"},
				Models:  []config.ModelEntry{{Name: "gpt-oss-20b"}},
				Weight:  1,
			},
		},
		Router: map[string]string{
			"default": "cloud,big-model;lmstudio,gpt-oss-20b",
			"coding":  "cloud,big-model",
		},
	}
	asm, err := assembler.Assemble(cfg, config.DefaultSystemConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return asm
}

func testBalancer(t *testing.T) *Balancer {
	t.Helper()
	asm := testAssembly(t)
	keys := keypool.NewManager(asm.Providers, nil)
	circuits := health.NewCircuits([]string{"cloud", "lmstudio"}, nil)
	return New(asm, keys, circuits, nil)
}

func TestPickPrefersHigherWeight(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)
	lease, err := b.Pick("default", PickOptions{})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	defer lease.Release(upstream.OutcomeOK, time.Millisecond)

	if lease.Pipeline.ID != "cloud-big-model-key0" {
		t.Errorf("picked %q, want the higher-weight provider first", lease.Pipeline.ID)
	}
	if lease.Slot.APIKey() != "cloud-key" {
		t.Error("lease carries wrong key")
	}
}

func TestPickUnknownCategory(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)
	if _, err := b.Pick("premium", PickOptions{}); !errors.Is(err, ErrNoPipelineForCategory) {
		t.Errorf("err = %v", err)
	}
}

func TestRateLimitMovesTraffic(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)

	lease, err := b.Pick("default", PickOptions{})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	first := lease.Pipeline.ID
	lease.Release(upstream.OutcomeRateLimited, time.Millisecond)

	// The rate-limited pipeline's key is cooling down; the other one serves.
	lease2, err := b.Pick("default", PickOptions{})
	if err != nil {
		t.Fatalf("second Pick: %v", err)
	}
	defer lease2.Release(upstream.OutcomeOK, time.Millisecond)

	if lease2.Pipeline.ID == first {
		t.Errorf("429'd pipeline %q picked again during cooldown", first)
	}
}

func TestExcludeForcesAlternative(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)
	lease, err := b.Pick("default", PickOptions{Exclude: "cloud-big-model-key0"})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	defer lease.Release(upstream.OutcomeOK, time.Millisecond)

	if lease.Pipeline.ID != "lmstudio-gpt-oss-20b-key0" {
		t.Errorf("picked %q with the best excluded", lease.Pipeline.ID)
	}
}

func TestCrossCategoryRescue(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)

	// Exhaust coding's only candidate via a key cooldown.
	lease, err := b.Pick("coding", PickOptions{})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	lease.Release(upstream.OutcomeRateLimited, time.Millisecond)

	rescued, err := b.Pick("coding", PickOptions{})
	if err != nil {
		t.Fatalf("rescue Pick: %v", err)
	}
	defer rescued.Release(upstream.OutcomeOK, time.Millisecond)

	if rescued.Pipeline.ID != "lmstudio-gpt-oss-20b-key0" {
		t.Errorf("rescued %q, want the global-pool candidate", rescued.Pipeline.ID)
	}
}

func TestFatalBlacklistsPipeline(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)

	lease, err := b.Pick("default", PickOptions{})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	id := lease.Pipeline.ID
	lease.Release(upstream.OutcomeFatal, time.Millisecond)

	stats, ok := b.Health(id)
	if !ok {
		t.Fatal("health record missing")
	}
	if stats.Status != StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", stats.Status)
	}
	if !stats.BlacklistedUntil.After(time.Now()) {
		t.Error("blacklist window not set")
	}

	// The blacklisted pipeline must not be picked.
	next, err := b.Pick("default", PickOptions{})
	if err != nil {
		t.Fatalf("Pick after fatal: %v", err)
	}
	defer next.Release(upstream.OutcomeOK, time.Millisecond)
	if next.Pipeline.ID == id {
		t.Errorf("blacklisted pipeline %q picked again", id)
	}
}

func TestNoEligiblePipeline(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)

	// Knock out both pipelines.
	for range 2 {
		lease, err := b.Pick("default", PickOptions{})
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		lease.Release(upstream.OutcomeRateLimited, time.Millisecond)
	}

	if _, err := b.Pick("default", PickOptions{}); !errors.Is(err, ErrNoEligiblePipeline) {
		t.Errorf("err = %v", err)
	}
}

func TestAffinityHintLowersScore(t *testing.T) {
	t.Parallel()

	b := testBalancer(t)

	// Without the hint the cloud pipeline wins; the hint flips the choice.
	lease, err := b.Pick("default", PickOptions{AffinityHint: "lmstudio-gpt-oss-20b-key0"})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	defer lease.Release(upstream.OutcomeOK, time.Millisecond)

	if lease.Pipeline.ID != "lmstudio-gpt-oss-20b-key0" {
		t.Errorf("picked %q, want the affinity target", lease.Pipeline.ID)
	}
}

func TestScoreFormula(t *testing.T) {
	t.Parallel()

	now := time.Now()

	clean := keypool.Stats{Priority: keypool.PriorityPrimary}
	if got := score(clean, PriorityNormal, now); got != basePrimary {
		t.Errorf("clean slot score = %v, want %v", got, basePrimary)
	}

	failing := keypool.Stats{
		Priority:            keypool.PriorityPrimary,
		Total:               10,
		Successes:           5,
		ConsecutiveFailures: 2,
		AvgResponseMs:       500,
	}
	// 10 + 50 + 10 + 5 = 75
	if got := score(failing, PriorityNormal, now); got != 75 {
		t.Errorf("failing slot score = %v, want 75", got)
	}

	// High-priority requests halve the base on primary slots.
	if got := score(clean, PriorityHigh, now); got != basePrimary*0.5 {
		t.Errorf("high priority score = %v", got)
	}

	backup := keypool.Stats{Priority: keypool.PriorityBackup}
	if got := score(backup, PriorityLow, now); got != baseBackup*0.8 {
		t.Errorf("low priority backup score = %v", got)
	}
}

func TestRateLimitPenaltyDecay(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if got := rateLimitPenalty(time.Time{}, now); got != 0 {
		t.Errorf("no 429 yet: %v", got)
	}
	if got := rateLimitPenalty(now, now); got != maxRateLimitPen {
		t.Errorf("fresh 429 penalty = %v", got)
	}
	half := rateLimitPenalty(now.Add(-rateLimitWindow/2), now)
	if half <= 14 || half >= 16 {
		t.Errorf("mid-window penalty = %v, want ~15", half)
	}
	if got := rateLimitPenalty(now.Add(-rateLimitWindow), now); got != 0 {
		t.Errorf("expired penalty = %v", got)
	}
}

func TestHealthRecovery(t *testing.T) {
	t.Parallel()

	h := newPipelineHealth()
	now := time.Now()

	// Two transient failures degrade.
	h.record(upstream.OutcomeTimeout, now, time.Minute, 5*time.Minute)
	status, _, _, _ := h.record(upstream.OutcomeTransient, now, time.Minute, 5*time.Minute)
	if status != StatusDegraded {
		t.Errorf("status = %q, want degraded", status)
	}

	// Two successes in a row recover.
	_, _, _, recovered := h.record(upstream.OutcomeOK, now, time.Minute, 5*time.Minute)
	if recovered {
		t.Error("one success must not report recovery yet")
	}
	status, _, _, recovered = h.record(upstream.OutcomeOK, now, time.Minute, 5*time.Minute)
	if status != StatusHealthy || !recovered {
		t.Errorf("status = %q recovered = %v, want healthy after recovery streak", status, recovered)
	}
}

func TestHealthUnhealthyAfterRepeated429(t *testing.T) {
	t.Parallel()

	h := newPipelineHealth()
	now := time.Now()
	window := time.Minute

	var status string
	for range 3 {
		status, _, _, _ = h.record(upstream.OutcomeRateLimited, now, window, 5*time.Minute)
	}
	if status != StatusUnhealthy {
		t.Errorf("status = %q after 3 consecutive 429s", status)
	}
	if h.eligible(now) {
		t.Error("unhealthy pipeline must be ineligible inside the window")
	}
	if !h.eligible(now.Add(window + time.Second)) {
		t.Error("pipeline must become eligible after the window")
	}
}
