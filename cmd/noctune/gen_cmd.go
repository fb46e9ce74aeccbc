package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noclab/noctuner"
)

func newGenCmd() *cobra.Command {
	var (
		packets  int
		latency  int
		stallPct int
		dropPct  int
		seed     string
	)

	cmd := &cobra.Command{
		Use:   "gen <out-file>",
		Short: "Generate a synthetic trace for exercising the analyzer and verifier",
		Long: "Generate a synthetic trace for exercising the analyzer and verifier\n" +
			"without the simulator binary. Pass '-' to write to stdout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer
			if args[0] == "-" {
				w = cmd.OutOrStdout()
			} else {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			tg := noctuner.CreateTraceGen(packets, seed)
			tg.LatencyNs = latency
			tg.StallPct = stallPct
			tg.DropPct = dropPct
			return tg.Generate(w)
		},
	}
	cmd.Flags().IntVar(&packets, "packets", 1000, "packets to send per topology")
	cmd.Flags().IntVar(&latency, "latency", 100, "base interconnect latency in ns")
	cmd.Flags().IntVar(&stallPct, "stall", 0, "interconnect stall percentage")
	cmd.Flags().IntVar(&dropPct, "drop", 0, "interconnect drop percentage on the ready path")
	cmd.Flags().StringVar(&seed, "seed", "tracegen", "rng stream seed name")
	return cmd
}
