package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/noclab/noctuner"
)

// errLossDetected distinguishes a loss verdict from a usage failure so
// main can exit 2 for the former, matching the sweep gate's contract
var errLossDetected = errors.New("packet loss detected")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <trace-file>",
		Short: "Check a trace for genuine packet loss on the ready path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			judgement, err := noctuner.VerifyTrace(f)
			if err != nil {
				return err
			}
			judgement.Render(cmd.OutOrStdout())
			if !judgement.Pass {
				return errLossDetected
			}
			return nil
		},
	}
}
