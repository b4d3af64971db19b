package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/transform"
	"github.com/omarluq/cc-router/internal/upstream"
)

func testPipelineConfig(endpoint string) assembler.PipelineConfig {
	return assembler.PipelineConfig{
		ID:          "lmstudio-gpt-oss-20b-key0",
		Category:    "default",
		Provider:    "lmstudio",
		TargetModel: "gpt-oss-20b",
		Endpoint:    endpoint,
		MaxTokens:   4096,
		Layers: assembler.LayerConfigs{
			Transformer: assembler.TransformerLayerConfig{
				Tag: "openai", Provider: "lmstudio", TargetModel: "gpt-oss-20b",
			},
			Protocol: assembler.ProtocolLayerConfig{
				Tag: "openai", Endpoint: endpoint, Timeout: time.Second, MaxRetries: 0,
			},
			Compat: assembler.CompatLayerConfig{
				Tag: "lmstudio", Endpoint: endpoint, MaxTokens: 4096,
			},
		},
	}
}

func TestExecuteFullChain(t *testing.T) {
	t.Parallel()

	var gotPath, gotModel string
	var gotStream gjson.Result
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath = r.URL.Path
		gotModel = gjson.GetBytes(body, "model").Str
		gotStream = gjson.GetBytes(body, "stream")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`))
	}))
	defer srv.Close()

	inst, err := newInstance(testPipelineConfig(srv.URL+"/v1"), upstream.NewClient())
	if err != nil {
		t.Fatalf("newInstance: %v", err)
	}
	if inst.State() != StateRuntime {
		t.Fatalf("state = %d", inst.State())
	}

	rc := NewRequestContext("req-1")
	rc.ClientModel = "claude-sonnet-4"

	res := inst.Execute(context.Background(), rc,
		[]byte(`{"model":"claude-sonnet-4","max_tokens":999999,"messages":[{"role":"user","content":"hi"}]}`),
		"sk-test")

	if res.Outcome != upstream.OutcomeOK || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}

	// Compat layer appended the chat path and clamped max_tokens.
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotModel != "gpt-oss-20b" {
		t.Errorf("outbound model = %q", gotModel)
	}
	if !gotStream.Exists() || gotStream.Bool() {
		t.Error("stream:false not enforced")
	}

	// Response translated back to the client dialect with the client's model.
	out := gjson.ParseBytes(res.Response)
	if out.Get("model").Str != "claude-sonnet-4" || out.Get("content.0.text").Str != "hello" {
		t.Errorf("translated response = %s", res.Response)
	}

	// All five stages timed.
	timings := rc.Timings()
	if len(timings) != 5 {
		t.Errorf("timings = %+v", timings)
	}
}

func TestExecuteClampsMaxTokens(t *testing.T) {
	t.Parallel()

	var gotMax int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMax = gjson.GetBytes(body, "max_tokens").Int()
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	inst, err := newInstance(testPipelineConfig(srv.URL), upstream.NewClient())
	if err != nil {
		t.Fatalf("newInstance: %v", err)
	}

	rc := NewRequestContext("req-2")
	res := inst.Execute(context.Background(), rc,
		[]byte(`{"model":"m","max_tokens":1000000,"messages":[{"role":"user","content":"x"}]}`), "k")
	if res.Outcome != upstream.OutcomeOK {
		t.Fatalf("result = %+v", res)
	}
	if gotMax > 4096 {
		t.Errorf("max_tokens %d exceeds the pipeline clamp", gotMax)
	}
}

func TestExecuteTransformerFailureSkipsUpstream(t *testing.T) {
	t.Parallel()

	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	inst, err := newInstance(testPipelineConfig(srv.URL), upstream.NewClient())
	if err != nil {
		t.Fatalf("newInstance: %v", err)
	}

	rc := NewRequestContext("req-3")
	res := inst.Execute(context.Background(), rc,
		[]byte(`{"messages":[{"role":"wizard","content":"hi"}]}`), "k")

	if !errors.Is(res.Err, transform.ErrUnsupportedMessageRole) || res.Layer != LayerTransformer {
		t.Errorf("result = %+v", res)
	}
	if called {
		t.Error("upstream called despite transformer failure")
	}
}

func TestExecuteSchemaInvalidResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer srv.Close()

	inst, err := newInstance(testPipelineConfig(srv.URL), upstream.NewClient())
	if err != nil {
		t.Fatalf("newInstance: %v", err)
	}

	rc := NewRequestContext("req-4")
	res := inst.Execute(context.Background(), rc,
		[]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`), "k")

	if res.Outcome != upstream.OutcomeFatal {
		t.Errorf("outcome = %q, want fatal on schema-invalid response", res.Outcome)
	}
}

func TestRegistryBuildsEveryPipeline(t *testing.T) {
	t.Parallel()

	cfgs := []assembler.PipelineConfig{
		testPipelineConfig("http://localhost:1"),
	}
	reg := registryFromConfigs(t, cfgs)
	if reg.Len() != 1 {
		t.Fatalf("len = %d", reg.Len())
	}
	inst, ok := reg.Instance("lmstudio-gpt-oss-20b-key0")
	if !ok || inst.Config().TargetModel != "gpt-oss-20b" {
		t.Fatalf("instance lookup failed")
	}

	reg.Stop()
	if inst.State() != StateStopped {
		t.Error("stop did not propagate")
	}
}

// registryFromConfigs builds a registry without going through full assembly.
func registryFromConfigs(t *testing.T, cfgs []assembler.PipelineConfig) *Registry {
	t.Helper()
	instances := make(map[string]*Instance, len(cfgs))
	for _, cfg := range cfgs {
		inst, err := newInstance(cfg, upstream.NewClient())
		if err != nil {
			t.Fatalf("newInstance: %v", err)
		}
		instances[cfg.ID] = inst
	}
	return &Registry{instances: instances}
}
