// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/cmd/elmscope/internal/format"
	"github.com/elmscope/elmscope/pkg/analysis"
)

// NewCompareCommand creates a command that diffs two fingerprints of a saved
// analysis report.
func NewCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <report.json> <device-1> <device-2>",
		Short: "Compare two device fingerprints from an analysis report",
		Example: `  elmscope compare elmscope_analysis_20240101_120000.json \
    aa:bb:cc:dd:ee:01 aa:bb:cc:dd:ee:02`,
		GroupID: "analysis",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := format.FromCommand(cmd)

			rep, err := analysis.LoadReport(args[0])
			if err != nil {
				return fail(f, "load report", err)
			}
			c, err := rep.Registry().Compare(args[1], args[2])
			if err != nil {
				return fail(f, "compare devices", err)
			}

			if f.Mode() == format.ModeJSON {
				return f.PrintJSON(c)
			}
			_, err = cmd.OutOrStdout().Write([]byte(c.String() + "\n"))
			return err
		},
	}
}
