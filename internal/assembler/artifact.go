package assembler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/omarluq/cc-router/internal/config"
)

// PipelineSummary is one row of the on-disk pipeline-table artifact.
type PipelineSummary struct {
	PipelineID   string              `json:"pipelineId"`
	Category     string              `json:"category"`
	Provider     string              `json:"provider"`
	TargetModel  string              `json:"targetModel"`
	Endpoint     string              `json:"endpoint"`
	Architecture ArchitectureSummary `json:"architecture"`
}

// ArchitectureSummary names the layer variants a pipeline was wired with.
type ArchitectureSummary struct {
	Transformer         string `json:"transformer"`
	Protocol            string `json:"protocol"`
	ServerCompatibility string `json:"serverCompatibility"`
}

// PipelineTable is the artifact document. Informational only: the in-memory
// Assembly is authoritative and the artifact is never read back at runtime.
type PipelineTable struct {
	ConfigName     string                       `json:"configName"`
	GeneratedAt    time.Time                    `json:"generatedAt"`
	TotalPipelines int                          `json:"totalPipelines"`
	ByVirtualModel map[string][]PipelineSummary `json:"pipelinesGroupedByVirtualModel"`
	AllPipelines   []PipelineSummary            `json:"allPipelines"`
}

// BuildPipelineTable renders the assembly as an artifact document.
// API keys never appear in the artifact.
func BuildPipelineTable(asm *Assembly, configName string) *PipelineTable {
	all := lo.Map(asm.Table.Pipelines(), func(p PipelineConfig, _ int) PipelineSummary {
		return summarize(&p)
	})

	grouped := make(map[string][]PipelineSummary)
	for _, cat := range config.Categories {
		ids := asm.Table.Candidates(cat)
		if len(ids) == 0 {
			continue
		}
		for _, id := range ids {
			if p, ok := asm.Table.Lookup(id); ok {
				grouped[cat] = append(grouped[cat], summarize(p))
			}
		}
	}

	return &PipelineTable{
		ConfigName:     configName,
		GeneratedAt:    asm.GeneratedAt,
		TotalPipelines: len(all),
		ByVirtualModel: grouped,
		AllPipelines:   all,
	}
}

func summarize(p *PipelineConfig) PipelineSummary {
	return PipelineSummary{
		PipelineID:  p.ID,
		Category:    p.Category,
		Provider:    p.Provider,
		TargetModel: p.TargetModel,
		Endpoint:    p.Endpoint,
		Architecture: ArchitectureSummary{
			Transformer:         p.Layers.Transformer.Tag,
			Protocol:            p.Layers.Protocol.Tag,
			ServerCompatibility: p.Layers.Compat.Tag,
		},
	}
}

// WriteArtifact serializes the pipeline table to its well-known location.
// A write failure is not fatal to assembly; the caller decides whether to log
// or propagate.
func WriteArtifact(asm *Assembly, path, configName string) error {
	table := BuildPipelineTable(asm, configName)

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("assembler: failed to encode pipeline table: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, 0o600); err != nil {
		return fmt.Errorf("assembler: failed to write pipeline table: %w", err)
	}

	log.Debug().Str("path", path).Int("pipelines", table.TotalPipelines).Msg("wrote pipeline table artifact")
	return nil
}
