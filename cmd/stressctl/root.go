package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stressctl",
		Short:         "Operate a stresspulse deployment",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newSummaryCmd(),
		newVersionCmd(),
	)
	return root
}
