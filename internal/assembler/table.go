// Package assembler turns user and system configuration into an immutable
// routing table and a flat list of fully-resolved pipeline configurations.
//
// Assembly runs once at startup and again on live reload. The output is
// read-only: request handlers share the table without locks, and a reload
// swaps the whole Assembly pointer atomically.
package assembler

import (
	"encoding/json"
	"time"

	"github.com/omarluq/cc-router/internal/config"
)

// PipelineConfig is one fully-resolved (provider, model, key-slot) pipeline.
// Immutable after assembly.
//
//nolint:govet // Field order optimized for readability, not memory alignment
type PipelineConfig struct {
	// ID is "<provider>-<model>-key<i>", unique across the table.
	ID string `json:"pipelineId"`

	// Category is the first category that produced this pipeline. Pipelines
	// reached through multiple categories are emitted once and referenced by
	// every category's list.
	Category string `json:"category"`

	Provider    string `json:"provider"`
	TargetModel string `json:"targetModel"`

	// Endpoint is the provider's api_base_url; the server-compatibility layer
	// applies any path correction (e.g. appending /chat/completions).
	Endpoint string `json:"endpoint"`

	// KeyIndex references a slot in the provider's key list.
	KeyIndex int    `json:"apiKeyRef"`
	APIKey   string `json:"-"`

	MaxTokens  int           `json:"maxTokens"`
	Timeout    time.Duration `json:"timeoutMs"`
	MaxRetries int           `json:"maxRetries"`
	Weight     int           `json:"weight"`

	Layers LayerConfigs `json:"layerConfigs"`
}

// LayerConfigs carries the per-layer parameter records wired at assembly time.
type LayerConfigs struct {
	Transformer TransformerLayerConfig `json:"transformer"`
	Protocol    ProtocolLayerConfig    `json:"protocol"`
	Compat      CompatLayerConfig      `json:"serverCompatibility"`
	Server      ServerLayerConfig      `json:"server"`
}

// TransformerLayerConfig parameterizes dialect translation.
type TransformerLayerConfig struct {
	Tag         string `json:"tag"`
	Provider    string `json:"provider"`
	TargetModel string `json:"targetModel"`
}

// ProtocolLayerConfig parameterizes endpoint/auth binding.
type ProtocolLayerConfig struct {
	Tag         string        `json:"tag"`
	Provider    string        `json:"provider"`
	TargetModel string        `json:"targetModel"`
	Endpoint    string        `json:"endpoint"`
	Timeout     time.Duration `json:"timeoutMs"`
	MaxRetries  int           `json:"maxRetries"`
}

// CompatLayerConfig parameterizes per-backend quirk handling.
type CompatLayerConfig struct {
	Tag         string            `json:"tag"`
	Provider    string            `json:"provider"`
	TargetModel string            `json:"targetModel"`
	Endpoint    string            `json:"endpoint"`
	APIKey      string            `json:"-"`
	Timeout     time.Duration     `json:"timeoutMs"`
	MaxTokens   int               `json:"maxTokens"`
	Options     map[string]string `json:"options,omitempty"`
}

// ServerLayerConfig parameterizes the outbound HTTP call.
type ServerLayerConfig struct {
	Endpoint   string        `json:"endpoint"`
	APIKey     string        `json:"-"`
	Timeout    time.Duration `json:"timeoutMs"`
	MaxTokens  int           `json:"maxTokens"`
	MaxRetries int           `json:"maxRetries"`
}

// RoutingTable maps categories to ordered pipeline id lists and owns the flat
// pipeline config list. Immutable after assembly; lookups are O(1).
type RoutingTable struct {
	categories map[string][]string
	byID       map[string]*PipelineConfig
	pipelines  []PipelineConfig
	globalPool []string
}

// newRoutingTable indexes the pipelines and freezes the category lists.
func newRoutingTable(categories map[string][]string, pipelines []PipelineConfig) *RoutingTable {
	t := &RoutingTable{
		categories: categories,
		pipelines:  pipelines,
		byID:       make(map[string]*PipelineConfig, len(pipelines)),
	}
	for i := range t.pipelines {
		t.byID[t.pipelines[i].ID] = &t.pipelines[i]
	}

	// Global pool: the union of every category's pipelines in canonical
	// category order, each id once, used for cross-category rescue.
	seen := make(map[string]bool, len(pipelines))
	for _, cat := range config.Categories {
		for _, id := range categories[cat] {
			if !seen[id] {
				seen[id] = true
				t.globalPool = append(t.globalPool, id)
			}
		}
	}
	return t
}

// Candidates returns the ordered pipeline ids for a category.
// The returned slice must not be mutated.
func (t *RoutingTable) Candidates(category string) []string {
	return t.categories[category]
}

// HasCategory reports whether the category has at least one pipeline.
func (t *RoutingTable) HasCategory(category string) bool {
	return len(t.categories[category]) > 0
}

// GlobalPool returns every pipeline id once, in canonical category order.
func (t *RoutingTable) GlobalPool() []string {
	return t.globalPool
}

// Lookup resolves a pipeline id to its config.
func (t *RoutingTable) Lookup(id string) (*PipelineConfig, bool) {
	cfg, ok := t.byID[id]
	return cfg, ok
}

// Pipelines returns the flat pipeline config list in assembly order.
func (t *RoutingTable) Pipelines() []PipelineConfig {
	return t.pipelines
}

// Serialize renders the table deterministically: same configs in, same bytes
// out. Secrets are excluded by the struct tags.
func (t *RoutingTable) Serialize() ([]byte, error) {
	doc := struct {
		Categories map[string][]string `json:"categories"`
		Pipelines  []PipelineConfig    `json:"pipelines"`
	}{
		Categories: t.categories,
		Pipelines:  t.pipelines,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Assembly is the full assembler output handed to the runtime: the routing
// table plus the provider and blacklist settings the balancer and key pools
// are built from.
type Assembly struct {
	Table       *RoutingTable
	Providers   map[string]config.ProviderConfig
	Blacklist   config.BlacklistConfig
	GeneratedAt time.Time
}

// Provider returns the config of a named provider from this assembly snapshot.
func (a *Assembly) Provider(name string) (config.ProviderConfig, bool) {
	p, ok := a.Providers[name]
	return p, ok
}
