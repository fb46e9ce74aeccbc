package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/noclab/noctuner"
)

func newAnalyzeCmd() *cobra.Command {
	var pktSize int

	cmd := &cobra.Command{
		Use:   "analyze <trace-file>",
		Short: "Reduce a simulation trace to per-topology latency and throughput",
		Long:  "Reduce a simulation trace to per-topology latency and throughput.\nPass '-' to read the trace from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rd io.Reader
			if args[0] == "-" {
				rd = os.Stdin
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				rd = f
			}

			analysis, err := noctuner.AnalyzeTrace(rd, pktSize)
			if err != nil {
				if errors.Is(err, noctuner.ErrEmptyTrace) {
					return errors.New("No events found – are you using the correct log?")
				}
				return err
			}
			analysis.Render(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&pktSize, "packet-size", noctuner.DefaultPacketSizeBytes, "packet size in bytes used for bandwidth")
	return cmd
}
