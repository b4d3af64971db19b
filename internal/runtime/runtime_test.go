package runtime

import (
	"testing"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/pipeline"
	"github.com/omarluq/cc-router/internal/upstream"
)

func buildRuntime(t *testing.T, keys ...string) *Runtime {
	t.Helper()

	cfg := &config.Config{
		Providers: []config.ProviderConfig{{
			Name:    "lmstudio",
			BaseURL: "http://localhost:1234/v1",
			APIKeys: config.KeyList(keys),
			Models:  []config.ModelEntry{{Name: "gpt-oss-20b"}},
		}},
		Router: map[string]string{"default": "lmstudio,gpt-oss-20b"},
	}
	asm, err := assembler.Assemble(cfg, config.DefaultSystemConfig())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	rt, err := Build(asm, upstream.NewClient(), events.NewBus())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return rt
}

func TestBuildWiresEveryCompanion(t *testing.T) {
	t.Parallel()

	rt := buildRuntime(t, "key-a", "key-b")

	if rt.Registry.Len() != 2 {
		t.Errorf("registry len = %d", rt.Registry.Len())
	}
	if _, err := rt.Keys.Pool("lmstudio"); err != nil {
		t.Errorf("key pool missing: %v", err)
	}
	if rt.Circuits.State("lmstudio") != "closed" {
		t.Errorf("circuit state = %q", rt.Circuits.State("lmstudio"))
	}
	if _, ok := rt.Provider("lmstudio"); !ok {
		t.Error("provider lookup failed")
	}
	if _, ok := rt.Balancer.Health("lmstudio-gpt-oss-20b-key0"); !ok {
		t.Error("balancer health missing for built pipeline")
	}
}

func TestStoreSwapStopsOldRegistry(t *testing.T) {
	t.Parallel()

	first := buildRuntime(t, "key-a")
	second := buildRuntime(t, "key-b")

	store := NewStore(first)
	if store.Current() != first {
		t.Fatal("store did not start with the initial runtime")
	}

	old := store.Swap(second)
	if old != first || store.Current() != second {
		t.Fatal("swap did not install the new runtime")
	}

	inst, ok := first.Registry.Instance("lmstudio-gpt-oss-20b-key0")
	if !ok {
		t.Fatal("old registry lost its instance")
	}
	if inst.State() != pipeline.StateStopped {
		t.Error("swap must stop the old generation's registry")
	}
}
