package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"github.com/samber/ro"
	"github.com/spf13/cobra"

	"github.com/omarluq/cc-router/internal/di"
	"github.com/omarluq/cc-router/internal/events"
	"github.com/omarluq/cc-router/internal/proxy"
)

// shutdownGrace bounds how long in-flight requests may drain.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the router",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&flagWatch, "watch", true, "reload configuration on file change")
	return cmd
}

func runServe(ctx context.Context) error {
	injector := di.New(di.Options{
		ConfigPath: flagConfig,
		SystemPath: flagSystem,
		Watch:      flagWatch,
	})

	svc, err := do.Invoke[*di.ConfigService](injector)
	if err != nil {
		return err
	}
	proxy.SetupLogging(svc.Config().Logging)

	server, err := do.Invoke[*proxy.Server](injector)
	if err != nil {
		return err
	}

	bus, err := do.Invoke[*events.Bus](injector)
	if err != nil {
		return err
	}
	stopSink := logEventSink(bus)
	defer stopSink()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := svc.Watch(watchCtx); err != nil {
			log.Error().Err(err).Msg("config watcher stopped")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}

	if report := injector.Shutdown(); report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}

// logEventSink drains routing events into the debug log. The returned stop
// function ends the stream.
func logEventSink(bus *events.Bus) func() {
	obs, cancel := bus.Observe(256)
	go obs.Subscribe(ro.OnNext(func(e events.Event) {
		log.Debug().
			Str("kind", string(e.Kind)).
			Str("pipeline", e.PipelineID).
			Str("provider", e.Provider).
			Str("detail", e.Detail).
			Msg("router event")
	}))
	return cancel
}
