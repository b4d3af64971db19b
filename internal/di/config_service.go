package di

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/runtime"
	"github.com/omarluq/cc-router/internal/upstream"
)

// ConfigService owns the config lifecycle: initial load, assembly, the
// runtime store, the pipeline-table artifact, and live reload. Reloads are
// serialized; a failed reload keeps the previous runtime.
type ConfigService struct {
	opts   Options
	bus    *events.Bus
	client *upstream.Client

	store *runtime.Store

	mu      sync.Mutex
	cfg     *config.Config
	system  *config.SystemConfig
	watcher *config.Watcher
}

// NewConfigService loads and assembles configuration. Any validation failure
// here is fatal at startup.
func NewConfigService(i do.Injector) (*ConfigService, error) {
	svc := &ConfigService{
		opts:   do.MustInvoke[Options](i),
		bus:    do.MustInvoke[*events.Bus](i),
		client: do.MustInvoke[*upstream.Client](i),
	}

	cfg, err := config.Load(svc.opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	system, err := config.LoadSystem(svc.opts.SystemPath)
	if err != nil {
		return nil, err
	}
	svc.cfg, svc.system = cfg, system

	asm, err := assembler.Assemble(cfg, system)
	if err != nil {
		return nil, err
	}
	svc.writeArtifact(asm)

	rt, err := runtime.Build(asm, svc.client, svc.bus)
	if err != nil {
		return nil, err
	}
	svc.store = runtime.NewStore(rt)

	log.Info().
		Str("config", svc.opts.ConfigPath).
		Int("pipelines", len(asm.Table.Pipelines())).
		Msg("configuration assembled")
	return svc, nil
}

// Store returns the runtime store handed to request handlers.
func (s *ConfigService) Store() *runtime.Store { return s.store }

// Config returns the loaded user config.
func (s *ConfigService) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Watch starts the config file watcher and blocks until ctx ends. No-op when
// live reload is disabled.
func (s *ConfigService) Watch(ctx context.Context) error {
	if !s.opts.Watch {
		<-ctx.Done()
		return nil
	}

	watcher, err := config.NewWatcher(s.opts.ConfigPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	watcher.OnReload(s.reload)
	return watcher.Watch(ctx)
}

// reload assembles the changed config and swaps the runtime. On any error the
// old runtime stays active and the reload is rejected.
func (s *ConfigService) reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asm, err := assembler.Assemble(cfg, s.system)
	if err != nil {
		log.Error().Err(err).Msg("reload rejected, keeping previous assembly")
		s.bus.Publish(events.Event{
			Kind:   events.KindAssemblyLoadRejected,
			Detail: err.Error(),
		})
		return err
	}

	rt, err := runtime.Build(asm, s.client, s.bus)
	if err != nil {
		log.Error().Err(err).Msg("reload rejected, keeping previous assembly")
		s.bus.Publish(events.Event{
			Kind:   events.KindAssemblyLoadRejected,
			Detail: err.Error(),
		})
		return err
	}

	s.cfg = cfg
	s.writeArtifact(asm)
	s.store.Swap(rt)

	log.Info().
		Int("pipelines", len(asm.Table.Pipelines())).
		Msg("configuration reloaded")
	s.bus.Publish(events.Event{Kind: events.KindAssemblySwapped})
	return nil
}

// writeArtifact emits the pipeline-table inspection document. Failure to
// write it never blocks serving.
func (s *ConfigService) writeArtifact(asm *assembler.Assembly) {
	path := s.cfg.Server.PipelineTablePath()
	if err := assembler.WriteArtifact(asm, path, s.opts.ConfigPath); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to write pipeline table artifact")
	}
}

// Shutdown closes the watcher.
func (s *ConfigService) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
