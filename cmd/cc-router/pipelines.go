package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/config"
)

func newPipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "Print the assembled pipeline table",
		Long:  "pipelines assembles the configuration and prints the pipeline-table document to stdout. API keys are never included.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines()
		},
	}
}

func runPipelines() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	system, err := config.LoadSystem(flagSystem)
	if err != nil {
		return err
	}
	asm, err := assembler.Assemble(cfg, system)
	if err != nil {
		return err
	}

	table := assembler.BuildPipelineTable(asm, flagConfig)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(table)
}
