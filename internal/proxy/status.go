package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/balancer"
	"github.com/omarluq/cc-router/internal/runtime"
)

// StatusHandler serves the introspection endpoints. Read-only; secrets never
// appear because the table's serialization excludes them.
type StatusHandler struct {
	store *runtime.Store
}

// NewStatusHandler wires the status endpoints against the runtime store.
func NewStatusHandler(store *runtime.Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// Healthz answers liveness probes.
func (s *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"generatedAt": s.store.Current().Assembly.GeneratedAt.Format(time.RFC3339),
	})
}

// pipelineStatus is one row of the pipelines listing.
type pipelineStatus struct {
	PipelineID  string               `json:"pipelineId"`
	Category    string               `json:"category"`
	Provider    string               `json:"provider"`
	TargetModel string               `json:"targetModel"`
	Health      balancer.HealthStats `json:"health"`
	Circuit     string               `json:"circuit"`
}

// Pipelines lists every pipeline with its current health and circuit state.
func (s *StatusHandler) Pipelines(w http.ResponseWriter, r *http.Request) {
	rt := s.store.Current()

	rows := lo.Map(rt.Assembly.Table.Pipelines(), func(p assembler.PipelineConfig, _ int) pipelineStatus {
		row := pipelineStatus{
			PipelineID:  p.ID,
			Category:    p.Category,
			Provider:    p.Provider,
			TargetModel: p.TargetModel,
			Circuit:     rt.Circuits.State(p.Provider),
		}
		if h, ok := rt.Balancer.Health(p.ID); ok {
			row.Health = h
		}
		return row
	})

	writeJSON(w, rows)
}

// writeJSON renders v with a 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write status response")
	}
}
