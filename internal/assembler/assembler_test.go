package assembler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/omarluq/cc-router/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{
				Name:    "lmstudio",
				BaseURL: "http://localhost:1234/v1",
				APIKeys: config.KeyList{"local-key"},
				Models:  []config.ModelEntry{{Name: "gpt-oss-20b"}},
				Weight:  1,
			},
			{
				Name:      "cloud",
				BaseURL:   "https://api.example.com/v1",
				APIKeys:   config.KeyList{"key-a", "key-b"},
				Models:    []config.ModelEntry{{Name: "big-model", MaxTokens: 32768}},
				Weight:    5,
				MaxTokens: 16384,
			},
		},
		Router: map[string]string{
			"default":     "lmstudio,gpt-oss-20b",
			"coding":      "cloud,big-model;lmstudio,gpt-oss-20b",
			"longContext": "cloud,big-model",
		},
	}
}

func mustAssemble(t *testing.T, cfg *config.Config) *Assembly {
	t.Helper()
	asm, err := Assemble(cfg, config.DefaultSystemConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return asm
}

func TestAssembleExpandsKeySlots(t *testing.T) {
	t.Parallel()

	asm := mustAssemble(t, testConfig())

	// cloud has two keys: one pipeline per key slot.
	coding := asm.Table.Candidates("coding")
	want := []string{"cloud-big-model-key0", "cloud-big-model-key1", "lmstudio-gpt-oss-20b-key0"}
	if len(coding) != len(want) {
		t.Fatalf("coding candidates = %v", coding)
	}
	for i, id := range want {
		if coding[i] != id {
			t.Errorf("coding[%d] = %q, want %q", i, coding[i], id)
		}
	}

	// Higher-weight provider sorts first.
	if coding[0] != "cloud-big-model-key0" {
		t.Errorf("weight ordering broken: %v", coding)
	}
}

func TestAssembleSharedPipelinesEmittedOnce(t *testing.T) {
	t.Parallel()

	asm := mustAssemble(t, testConfig())

	// cloud-big-model appears in both coding and longContext but is emitted
	// once in the flat list.
	count := 0
	for _, p := range asm.Table.Pipelines() {
		if p.ID == "cloud-big-model-key0" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("cloud-big-model-key0 emitted %d times", count)
	}

	if !asm.Table.HasCategory("longContext") {
		t.Error("longContext category missing")
	}
}

func TestAssembleMaxTokensResolution(t *testing.T) {
	t.Parallel()

	asm := mustAssemble(t, testConfig())

	p, ok := asm.Table.Lookup("cloud-big-model-key0")
	if !ok {
		t.Fatal("pipeline missing")
	}
	if p.MaxTokens != 32768 {
		t.Errorf("model-level maxTokens = %d, want 32768", p.MaxTokens)
	}

	lm, _ := asm.Table.Lookup("lmstudio-gpt-oss-20b-key0")
	if lm.MaxTokens != config.DefaultMaxTokens {
		t.Errorf("default maxTokens = %d, want %d", lm.MaxTokens, config.DefaultMaxTokens)
	}
}

func TestAssembleCollectsAllRuleErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Router["default"] = "ghost,gpt-oss-20b"
	cfg.Router["coding"] = "lmstudio,unknown-model;broken-segment"

	_, err := Assemble(cfg, config.DefaultSystemConfig())
	if err == nil {
		t.Fatal("expected assembly failure")
	}

	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type %T", err)
	}
	msg := err.Error()
	for _, frag := range []string{
		"unknown provider \"ghost\"",
		"not listed by provider",
		"broken-segment",
		"router.default must resolve",
	} {
		if !strings.Contains(msg, frag) {
			t.Errorf("missing %q in:\n%s", frag, msg)
		}
	}
}

func TestAssembleRejectsUnknownCompatTag(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers[0].ServerCompatibility.Use = "netscape"

	_, err := Assemble(cfg, config.DefaultSystemConfig())
	if err == nil || !strings.Contains(err.Error(), "netscape") {
		t.Fatalf("unknown compat tag accepted: %v", err)
	}
}

func TestSerializeExcludesKeys(t *testing.T) {
	t.Parallel()

	asm := mustAssemble(t, testConfig())
	raw, err := asm.Table.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	for _, secret := range []string{"local-key", "key-a", "key-b"} {
		if bytes.Contains(raw, []byte(secret)) {
			t.Errorf("serialized table leaks key %q", secret)
		}
	}
}

func TestAssemblyDeterminism(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("same config serializes byte-identically", prop.ForAll(
		func(weightA, weightB int, keys int) bool {
			build := func() []byte {
				cfg := testConfig()
				cfg.Providers[0].Weight = weightA
				cfg.Providers[1].Weight = weightB
				cfg.Providers[1].APIKeys = cfg.Providers[1].APIKeys[:keys]
				asm, err := Assemble(cfg, config.DefaultSystemConfig())
				if err != nil {
					return nil
				}
				raw, _ := asm.Table.Serialize()
				return raw
			}
			return bytes.Equal(build(), build())
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
		gen.IntRange(1, 2),
	))

	properties.Property("pipeline ids are pairwise distinct", prop.ForAll(
		func(weightA, weightB int) bool {
			cfg := testConfig()
			cfg.Providers[0].Weight = weightA
			cfg.Providers[1].Weight = weightB
			asm, err := Assemble(cfg, config.DefaultSystemConfig())
			if err != nil {
				return false
			}
			seen := map[string]bool{}
			for _, p := range asm.Table.Pipelines() {
				if seen[p.ID] {
					return false
				}
				seen[p.ID] = true
			}
			return true
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
