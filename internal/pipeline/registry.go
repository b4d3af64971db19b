package pipeline

import (
	"fmt"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Registry owns the instance set of one assembly generation. Built whole at
// assembly time and discarded whole on reload; never mutated in between.
type Registry struct {
	instances map[string]*Instance
}

// NewRegistry builds an instance per pipeline in the assembly. Any resolution
// failure aborts the whole build, mirroring assembly's all-or-nothing rule.
func NewRegistry(asm *assembler.Assembly, client *upstream.Client) (*Registry, error) {
	pipelines := asm.Table.Pipelines()
	instances := make(map[string]*Instance, len(pipelines))
	for _, cfg := range pipelines {
		inst, err := newInstance(cfg, client)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		instances[cfg.ID] = inst
	}
	return &Registry{instances: instances}, nil
}

// Instance resolves a pipeline id to its runtime instance.
func (r *Registry) Instance(id string) (*Instance, bool) {
	inst, ok := r.instances[id]
	return inst, ok
}

// Len returns the instance count.
func (r *Registry) Len() int { return len(r.instances) }

// Stop marks every instance stopped. In-flight requests finish against the
// old instances; new picks come from the replacement registry.
func (r *Registry) Stop() {
	for _, inst := range r.instances {
		inst.stop()
	}
}
