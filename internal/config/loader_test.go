package config

import (
	"strings"
	"testing"
)

const sampleYAML = `
providers:
  - name: lmstudio
    api_base_url: http://localhost:1234/v1
    api_key: "test-key"
    models:
      - gpt-oss-20b
      - name: glm-4.5-air
        maxTokens: 8192
    weight: 2
  - name: cloud
    api_base_url: https://api.example.com/v1
    api_key:
      - key-one
      - key-two
    models:
      - big-model
    maxTokens: 16384
router:
  default: "lmstudio,gpt-oss-20b"
  coding: "cloud,big-model;lmstudio,gpt-oss-20b"
server:
  port: 3456
  host: 127.0.0.1
blacklistSettings:
  timeout429: 60000
  timeoutError: 300000
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}

	lm := cfg.Providers[0]
	if got := []string(lm.APIKeys); len(got) != 1 || got[0] != "test-key" {
		t.Errorf("single api_key parsed as %v", got)
	}
	if len(lm.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(lm.Models))
	}
	if lm.Models[0].Name != "gpt-oss-20b" || lm.Models[0].MaxTokens != 0 {
		t.Errorf("bare model entry = %+v", lm.Models[0])
	}
	if lm.Models[1].Name != "glm-4.5-air" || lm.Models[1].MaxTokens != 8192 {
		t.Errorf("object model entry = %+v", lm.Models[1])
	}

	cloud := cfg.Providers[1]
	if len(cloud.APIKeys) != 2 {
		t.Errorf("key list parsed as %v", cloud.APIKeys)
	}

	if cfg.Router["coding"] != "cloud,big-model;lmstudio,gpt-oss-20b" {
		t.Errorf("router.coding = %q", cfg.Router["coding"])
	}
	if cfg.Blacklist.Window429().Seconds() != 60 {
		t.Errorf("Window429 = %v", cfg.Blacklist.Window429())
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CC_ROUTER_TEST_KEY", "secret-from-env")

	cfg, err := LoadFromReader(strings.NewReader(`
providers:
  - name: p
    api_base_url: http://localhost:9/v1
    api_key: "${CC_ROUTER_TEST_KEY}"
    models: [m]
router:
  default: "p,m"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers[0].APIKeys[0] != "secret-from-env" {
		t.Errorf("env expansion failed: %q", cfg.Providers[0].APIKeys[0])
	}
}

func TestResolveMaxTokensOrder(t *testing.T) {
	t.Parallel()

	p := ProviderConfig{
		MaxTokens: 16384,
		Models: []ModelEntry{
			{Name: "with-own", MaxTokens: 8192},
			{Name: "inherits"},
		},
	}

	if got := p.ResolveMaxTokens("with-own"); got != 8192 {
		t.Errorf("model-level = %d, want 8192", got)
	}
	if got := p.ResolveMaxTokens("inherits"); got != 16384 {
		t.Errorf("provider-level = %d, want 16384", got)
	}

	bare := ProviderConfig{Models: []ModelEntry{{Name: "m"}}}
	if got := bare.ResolveMaxTokens("m"); got != DefaultMaxTokens {
		t.Errorf("default = %d, want %d", got, DefaultMaxTokens)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	t.Parallel()

	s := ServerConfig{}
	if got := s.ListenAddr(); got != ":3456" {
		t.Errorf("ListenAddr = %q", got)
	}
	if got := s.GetMaxBodyBytes(); got != 10<<20 {
		t.Errorf("GetMaxBodyBytes = %d", got)
	}
	if s.GetTimeoutOption().IsPresent() {
		t.Error("zero timeout should be None")
	}
}
