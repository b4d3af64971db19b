// Package runtime ties one assembly generation to its mutable companions:
// key pools, provider circuits, the balancer, and the pipeline registry.
// A reload builds a whole new Runtime and swaps the pointer; in-flight
// requests keep the generation they started with.
package runtime

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/balancer"
	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/health"
	"github.com/omarluq/cc-router/internal/keypool"
	"github.com/omarluq/cc-router/internal/pipeline"
	"github.com/omarluq/cc-router/internal/upstream"
)

// Runtime is everything request handling needs from one assembly generation.
type Runtime struct {
	Assembly *assembler.Assembly
	Keys     *keypool.Manager
	Circuits *health.Circuits
	Balancer *balancer.Balancer
	Registry *pipeline.Registry
}

// Build constructs the runtime for an assembly. The upstream client and event
// bus are process-wide and survive reloads.
func Build(asm *assembler.Assembly, client *upstream.Client, bus *events.Bus) (*Runtime, error) {
	registry, err := pipeline.NewRegistry(asm, client)
	if err != nil {
		return nil, err
	}

	providers := lo.Keys(asm.Providers)
	keys := keypool.NewManager(asm.Providers, bus)
	circuits := health.NewCircuits(providers, bus)

	return &Runtime{
		Assembly: asm,
		Keys:     keys,
		Circuits: circuits,
		Balancer: balancer.New(asm, keys, circuits, bus),
		Registry: registry,
	}, nil
}

// Provider returns the provider config from this generation's snapshot.
func (rt *Runtime) Provider(name string) (config.ProviderConfig, bool) {
	return rt.Assembly.Provider(name)
}

// Store holds the current runtime behind an atomic pointer. Readers take no
// locks; writers serialize externally.
type Store struct {
	current atomic.Pointer[Runtime]
}

// NewStore starts with an initial runtime.
func NewStore(rt *Runtime) *Store {
	s := &Store{}
	s.current.Store(rt)
	return s
}

// Current returns the active runtime.
func (s *Store) Current() *Runtime {
	return s.current.Load()
}

// Swap installs a new runtime, stops the old registry, and returns the old
// runtime for inspection.
func (s *Store) Swap(rt *Runtime) *Runtime {
	old := s.current.Swap(rt)
	if old != nil {
		old.Registry.Stop()
	}
	return old
}
