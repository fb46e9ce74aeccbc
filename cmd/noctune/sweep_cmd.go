package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/noclab/noctuner"
)

func newSweepCmd() *cobra.Command {
	var reportFile string
	var summaryFile string

	cmd := &cobra.Command{
		Use:   "sweep <desc-file>",
		Short: "Run the full parameter grid described by a sweep desc",
		Long: "Run the full parameter grid described by a sweep desc file\n" +
			"(yaml or json, by extension). Each grid point patches the simulator\n" +
			"configuration, rebuilds, runs, verifies, and analyzes; the report\n" +
			"CSV gains one row per point.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext := path.Ext(args[0])
			useYAML := ext == ".yaml" || ext == ".yml" || ext == ".YAML"
			desc, err := noctuner.ReadSweepDesc(args[0], useYAML, []byte{})
			if err != nil {
				return err
			}
			if len(reportFile) > 0 {
				desc.ReportFile = reportFile
			}

			sweeper := noctuner.CreateSweeper(desc)
			report, err := sweeper.Run()
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d points reported\n", len(report.Points))
				if len(summaryFile) > 0 {
					report.WriteToFile(summaryFile)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&reportFile, "report", "", "override the desc's report file path")
	cmd.Flags().StringVar(&summaryFile, "summary", "", "also write the full report as yaml or json, by extension")
	return cmd
}
