package config

import "time"

// SystemConfig supplies provider-type templates: the tag → transport/dialect
// bindings that user configs reference through serverCompatibility.use.
type SystemConfig struct {
	ProviderTypes map[string]ProviderTemplate `yaml:"providerTypes" toml:"providerTypes" json:"providerTypes"`
}

// ProviderTemplate describes how pipelines for one backend type are wired.
type ProviderTemplate struct {
	// Endpoint is the path appended to the provider's api_base_url when the
	// base URL does not already contain it (e.g. "/chat/completions").
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`

	// Protocol is the protocol-layer tag (openai, anthropic).
	Protocol string `yaml:"protocol" toml:"protocol" json:"protocol"`

	// TimeoutMS is the per-attempt upstream timeout.
	TimeoutMS int `yaml:"timeout" toml:"timeout" json:"timeout"`

	// MaxRetries caps ServerLayer retries for timeout/transient failures.
	MaxRetries int `yaml:"maxRetries" toml:"maxRetries" json:"maxRetries"`

	// Transformer is the transformer-layer tag (openai, passthrough).
	Transformer string `yaml:"transformer" toml:"transformer" json:"transformer"`

	// ServerCompatibility is the compat-layer tag this template binds.
	ServerCompatibility string `yaml:"serverCompatibility" toml:"serverCompatibility" json:"serverCompatibility"`
}

// Timeout returns the per-attempt timeout with default fallback (60s).
func (t *ProviderTemplate) Timeout() time.Duration {
	if t.TimeoutMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// Retries returns the retry budget with default fallback (2).
func (t *ProviderTemplate) Retries() int {
	if t.MaxRetries < 0 {
		return 0
	}
	if t.MaxRetries == 0 {
		return 2
	}
	return t.MaxRetries
}

// openAITemplate builds the standard OpenAI-dialect template shared by most tags.
func openAITemplate(compat string) ProviderTemplate {
	return ProviderTemplate{
		Endpoint:            "/chat/completions",
		Protocol:            "openai",
		TimeoutMS:           60_000,
		MaxRetries:          2,
		Transformer:         "openai",
		ServerCompatibility: compat,
	}
}

// DefaultSystemConfig returns the built-in provider-type templates.
// A user-supplied system config replaces entries by tag; unknown tags in user
// configs fail assembly.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		ProviderTypes: map[string]ProviderTemplate{
			"lmstudio":   openAITemplate("lmstudio"),
			"ollama":     openAITemplate("ollama"),
			"vllm":       openAITemplate("vllm"),
			"qwen":       openAITemplate("qwen"),
			"iflow":      openAITemplate("iflow"),
			"openai":     openAITemplate("openai"),
			"gemini":     openAITemplate("gemini"),
			"modelscope": openAITemplate("modelscope"),
			"generic":    openAITemplate("generic"),
			"anthropic": {
				Endpoint:            "/v1/messages",
				Protocol:            "anthropic",
				TimeoutMS:           60_000,
				MaxRetries:          2,
				Transformer:         "passthrough",
				ServerCompatibility: "anthropic",
			},
		},
	}
}

// Merge overlays user-supplied templates onto the defaults so partial system
// configs only need to declare the tags they change.
func (s *SystemConfig) Merge(overlay *SystemConfig) *SystemConfig {
	if overlay == nil {
		return s
	}
	merged := &SystemConfig{ProviderTypes: make(map[string]ProviderTemplate, len(s.ProviderTypes))}
	for tag, tpl := range s.ProviderTypes {
		merged.ProviderTypes[tag] = tpl
	}
	for tag, tpl := range overlay.ProviderTypes {
		merged.ProviderTypes[tag] = tpl
	}
	return merged
}
