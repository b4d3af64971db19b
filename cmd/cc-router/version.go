package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omarluq/cc-router/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cc-router version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("%s %s\n", cmd.Root().Name(), version.String())
		},
	}
}
