package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "noctune",
		Short:         "Trace analysis and parameter sweeps for the NOC flow-control simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log external process output and diagnostics")

	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newGenCmd())
	return cmd
}
