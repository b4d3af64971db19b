// cc-router routes Anthropic-dialect LLM requests across OpenAI-compatible
// and native backends with category classification, scored load balancing,
// and per-key rate-limit tracking.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"

	"github.com/omarluq/cc-router/internal/version"
)

// Global flags shared by every subcommand.
var (
	flagConfig string
	flagSystem string
	flagWatch  bool
)

func main() {
	root := &cobra.Command{
		Use:           "cc-router",
		Short:         "Multi-provider LLM request router",
		Long:          "cc-router accepts Anthropic-dialect requests, classifies them, and routes them to configured backends over fully-resolved pipelines.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "path to the user config file")
	root.PersistentFlags().StringVar(&flagSystem, "system-config", "", "path to the system config overlay")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newPipelinesCmd())
	root.AddCommand(newVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, root); err != nil {
		os.Exit(1)
	}
}
