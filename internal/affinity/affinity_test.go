package affinity

import (
	"testing"
	"time"

	"github.com/omarluq/cc-router/internal/config"
)

func TestFingerprintStability(t *testing.T) {
	t.Parallel()

	body := []byte(`{"system":"be terse","messages":[{"role":"user","content":"hello"}]}`)
	a := Fingerprint(body)
	b := Fingerprint(body)
	if a == "" || a != b {
		t.Errorf("fingerprint unstable: %q vs %q", a, b)
	}

	other := Fingerprint([]byte(`{"system":"be verbose","messages":[{"role":"user","content":"hello"}]}`))
	if other == a {
		t.Error("different system prompt should change the fingerprint")
	}

	// Follow-up turns keep the same first user message, so the fingerprint
	// holds across the conversation.
	followUp := Fingerprint([]byte(`{"system":"be terse","messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"},{"role":"user","content":"more"}]}`))
	if followUp != a {
		t.Error("follow-up turn should keep the conversation fingerprint")
	}
}

func TestFingerprintEmpty(t *testing.T) {
	t.Parallel()

	if got := Fingerprint([]byte(`{"messages":[{"role":"assistant","content":"x"}]}`)); got != "" {
		t.Errorf("no system and no user message should yield no fingerprint, got %q", got)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(config.AffinityConfig{Enabled: true, MaxEntries: 128, TTLSeconds: 60})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Remember("fp-1", "cloud-big-model-key0")

	// ristretto admits asynchronously.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Hint("fp-1") == "cloud-big-model-key0" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("hint never became visible")
}

func TestDisabledCacheIsNil(t *testing.T) {
	t.Parallel()

	c, err := New(config.AffinityConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c != nil {
		t.Fatal("disabled config should return a nil cache")
	}

	// Every operation tolerates the nil cache.
	if got := c.Hint("fp"); got != "" {
		t.Errorf("nil hint = %q", got)
	}
	c.Remember("fp", "p")
	c.Close()
}
