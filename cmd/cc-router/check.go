package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omarluq/cc-router/internal/assembler"
	"github.com/omarluq/cc-router/internal/config"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and exit",
		Long:  "check loads the user and system configs, runs full assembly, and reports every problem found. Exits nonzero on any error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd)
		},
	}
}

func runCheck(cmd *cobra.Command) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return reportErrors(cmd, err)
	}
	system, err := config.LoadSystem(flagSystem)
	if err != nil {
		return reportErrors(cmd, err)
	}

	asm, err := assembler.Assemble(cfg, system)
	if err != nil {
		return reportErrors(cmd, err)
	}

	cmd.Printf("configuration ok: %d providers, %d pipelines\n",
		len(asm.Providers), len(asm.Table.Pipelines()))
	return nil
}

// reportErrors prints every collected validation problem, one per line, then
// fails the command.
func reportErrors(cmd *cobra.Command, err error) error {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		for _, msg := range verr.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", msg)
		}
		return fmt.Errorf("configuration invalid: %d problem(s)", len(verr.Errors))
	}
	return err
}
