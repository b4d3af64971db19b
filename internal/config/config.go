// Package config provides configuration loading and parsing for cc-router.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"
)

// Category names for virtual-model routing rules.
const (
	CategoryDefault     = "default"
	CategoryCoding      = "coding"
	CategoryReasoning   = "reasoning"
	CategoryLongContext = "longContext"
	CategoryWebSearch   = "webSearch"
)

// Categories lists every recognized routing category, default first.
var Categories = []string{
	CategoryDefault,
	CategoryCoding,
	CategoryReasoning,
	CategoryLongContext,
	CategoryWebSearch,
}

// DefaultMaxTokens is the fallback max_tokens clamp when neither a model entry
// nor its provider specifies one.
const DefaultMaxTokens = 4096

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config is the user-facing router configuration: providers, category routing
// rules, server settings, and blacklist windows.
type Config struct {
	Providers []ProviderConfig  `yaml:"providers" toml:"providers" json:"providers"`
	Router    map[string]string `yaml:"router" toml:"router" json:"router"`
	Server    ServerConfig      `yaml:"server" toml:"server" json:"server"`
	Blacklist BlacklistConfig   `yaml:"blacklistSettings" toml:"blacklistSettings" json:"blacklistSettings"`
	Logging   LoggingConfig     `yaml:"logging" toml:"logging" json:"logging"`
	Affinity  AffinityConfig    `yaml:"affinity" toml:"affinity" json:"affinity"`
}

// ProviderConfig defines one backend LLM provider.
//
//nolint:govet // Field order optimized for readability, not memory alignment
type ProviderConfig struct {
	Name      string       `yaml:"name" toml:"name" json:"name"`
	BaseURL   string       `yaml:"api_base_url" toml:"api_base_url" json:"api_base_url"`
	APIKeys   KeyList      `yaml:"api_key" toml:"api_key" json:"api_key"`
	Models    []ModelEntry `yaml:"models" toml:"models" json:"models"`
	Weight    int          `yaml:"weight" toml:"weight" json:"weight"`
	MaxTokens int          `yaml:"maxTokens" toml:"maxTokens" json:"maxTokens"`

	// MaxConcurrent caps in-flight requests per API key slot. 0 uses the default.
	MaxConcurrent int `yaml:"max_concurrent" toml:"max_concurrent" json:"max_concurrent"`

	// RPMLimit is an optional per-key requests-per-minute gate (0 = unlimited).
	RPMLimit int `yaml:"rpm_limit" toml:"rpm_limit" json:"rpm_limit"`

	ServerCompatibility CompatSelector `yaml:"serverCompatibility" toml:"serverCompatibility" json:"serverCompatibility"`

	// Protocol and Transformer override the tags supplied by the provider-type
	// template. Empty means "use the template's tag".
	Protocol    string `yaml:"protocol" toml:"protocol" json:"protocol"`
	Transformer string `yaml:"transformer" toml:"transformer" json:"transformer"`
}

// CompatSelector picks a server-compatibility module and its per-tag options.
type CompatSelector struct {
	Use     string            `yaml:"use" toml:"use" json:"use"`
	Options map[string]string `yaml:"options" toml:"options" json:"options"`
}

// KeyList accepts either a single API key string or a list of keys.
type KeyList []string

// UnmarshalYAML implements yaml.Unmarshaler for the string-or-list form.
func (k *KeyList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*k = KeyList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*k = KeyList(many)
		return nil
	default:
		return fmt.Errorf("config: api_key must be a string or a list of strings")
	}
}

// ModelEntry accepts either a bare model name or {name, maxTokens}.
type ModelEntry struct {
	Name      string `yaml:"name" toml:"name" json:"name"`
	MaxTokens int    `yaml:"maxTokens" toml:"maxTokens" json:"maxTokens"`
}

// UnmarshalYAML implements yaml.Unmarshaler for the string-or-object form.
func (m *ModelEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		m.Name = name
		return nil
	}

	type plain ModelEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = ModelEntry(p)
	return nil
}

// GetMaxTokensOption returns the model-level max tokens as an Option.
// Returns None when the entry does not set one.
func (m *ModelEntry) GetMaxTokensOption() mo.Option[int] {
	if m.MaxTokens <= 0 {
		return mo.None[int]()
	}
	return mo.Some(m.MaxTokens)
}

// HasModel reports whether the provider lists the given model name.
func (p *ProviderConfig) HasModel(name string) bool {
	for _, m := range p.Models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// ResolveMaxTokens applies the model > provider > default resolution order.
func (p *ProviderConfig) ResolveMaxTokens(model string) int {
	for _, m := range p.Models {
		if m.Name == model && m.MaxTokens > 0 {
			return m.MaxTokens
		}
	}
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return DefaultMaxTokens
}

// ServerConfig defines ingress server settings.
type ServerConfig struct {
	Host          string `yaml:"host" toml:"host" json:"host"`
	Port          int    `yaml:"port" toml:"port" json:"port"`
	Debug         bool   `yaml:"debug" toml:"debug" json:"debug"`
	TimeoutMS     int    `yaml:"timeout_ms" toml:"timeout_ms" json:"timeout_ms"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" toml:"max_body_bytes" json:"max_body_bytes"`
	EnableHTTP2   bool   `yaml:"enable_http2" toml:"enable_http2" json:"enable_http2"`
	PipelineTable string `yaml:"pipeline_table" toml:"pipeline_table" json:"pipeline_table"`
}

// ListenAddr returns the host:port listen address.
func (s *ServerConfig) ListenAddr() string {
	host := s.Host
	port := s.Port
	if port == 0 {
		port = 3456
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetTimeoutOption returns the per-request hard deadline as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxBodyBytes returns the request body cap with default fallback (10 MiB).
func (s *ServerConfig) GetMaxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
}

// PipelineTablePath returns the on-disk location of the pipeline-table artifact.
func (s *ServerConfig) PipelineTablePath() string {
	if s.PipelineTable == "" {
		return "pipeline-table.json"
	}
	return s.PipelineTable
}

// BlacklistConfig defines pipeline-level blacklist windows.
type BlacklistConfig struct {
	// Timeout429MS is how long a pipeline stays unhealthy after repeated 429s.
	Timeout429MS int `yaml:"timeout429" toml:"timeout429" json:"timeout429"`

	// TimeoutErrorMS is how long a pipeline stays unhealthy after a fatal error.
	TimeoutErrorMS int `yaml:"timeoutError" toml:"timeoutError" json:"timeoutError"`
}

// Window429 returns the 429 blacklist window (default 60s).
func (b *BlacklistConfig) Window429() time.Duration {
	if b.Timeout429MS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.Timeout429MS) * time.Millisecond
}

// WindowError returns the fatal-error blacklist window (default 300s).
func (b *BlacklistConfig) WindowError() time.Duration {
	if b.TimeoutErrorMS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(b.TimeoutErrorMS) * time.Millisecond
}

// AffinityConfig controls the conversation-affinity hint cache.
type AffinityConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	// MaxEntries bounds the cache size. 0 uses the default (100k fingerprints).
	MaxEntries int64 `yaml:"max_entries" toml:"max_entries" json:"max_entries"`

	// TTLSeconds is the fingerprint lifetime. 0 uses the default (30 minutes).
	TTLSeconds int `yaml:"ttl_seconds" toml:"ttl_seconds" json:"ttl_seconds"`
}

// GetTTL returns the affinity entry lifetime with default fallback.
func (a *AffinityConfig) GetTTL() time.Duration {
	if a.TTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(a.TTLSeconds) * time.Second
}

// GetMaxEntries returns the cache capacity with default fallback.
func (a *AffinityConfig) GetMaxEntries() int64 {
	if a.MaxEntries <= 0 {
		return 100_000
	}
	return a.MaxEntries
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`    // debug, info, warn, error
	Format string `yaml:"format" toml:"format" json:"format"` // json, console
	Output string `yaml:"output" toml:"output" json:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty" json:"pretty"`
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
