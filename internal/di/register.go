package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-router/internal/affinity"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/proxy"
	"github.com/omarluq/cc-router/internal/upstream"
)

// New builds the injector for one process. Services construct lazily on first
// resolve, so a CLI command that only validates config never opens sockets.
func New(opts Options) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, opts)
	do.Provide(injector, NewEventBus)
	do.Provide(injector, NewUpstreamClient)
	do.Provide(injector, NewConfigService)
	do.Provide(injector, NewAffinityCache)
	do.Provide(injector, NewHandler)
	do.Provide(injector, NewStatusHandler)
	do.Provide(injector, NewServer)

	return injector
}

// NewEventBus provides the process-wide event bus.
func NewEventBus(i do.Injector) (*events.Bus, error) {
	return events.NewBus(), nil
}

// NewUpstreamClient provides the shared outbound HTTP client.
func NewUpstreamClient(i do.Injector) (*upstream.Client, error) {
	return upstream.NewClient(), nil
}

// NewAffinityCache provides the conversation-affinity cache. Nil when
// disabled; every consumer tolerates nil.
func NewAffinityCache(i do.Injector) (*affinity.Cache, error) {
	svc := do.MustInvoke[*ConfigService](i)
	return affinity.New(svc.Config().Affinity)
}

// NewHandler provides the message ingress handler.
func NewHandler(i do.Injector) (*proxy.Handler, error) {
	svc := do.MustInvoke[*ConfigService](i)
	return proxy.NewHandler(
		svc.Store(),
		do.MustInvoke[*affinity.Cache](i),
		do.MustInvoke[*events.Bus](i),
		svc.Config().Server,
	), nil
}

// NewStatusHandler provides the introspection endpoints.
func NewStatusHandler(i do.Injector) (*proxy.StatusHandler, error) {
	svc := do.MustInvoke[*ConfigService](i)
	return proxy.NewStatusHandler(svc.Store()), nil
}

// NewServer provides the HTTP server.
func NewServer(i do.Injector) (*proxy.Server, error) {
	svc := do.MustInvoke[*ConfigService](i)
	return proxy.NewServer(
		svc.Config().Server,
		do.MustInvoke[*proxy.Handler](i),
		do.MustInvoke[*proxy.StatusHandler](i),
	), nil
}
