// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/cmd/elmscope/internal/format"
	"github.com/elmscope/elmscope/pkg/probe"
)

// NewSuitesCommand lists the probe suites of the active catalog.
func NewSuitesCommand() *cobra.Command {
	var catalogFile string
	cmd := &cobra.Command{
		Use:     "suites",
		Short:   "List the probe suites",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := format.FromCommand(cmd)

			catalog, err := probe.LoadCatalog(catalogFile)
			if err != nil {
				return fail(f, "load suite catalog", err)
			}

			rows := make([][]string, 0, len(catalog.Suites))
			steps := 0
			for _, s := range catalog.Suites {
				category := string(s.Category)
				if category == "" {
					category = "-"
				}
				rows = append(rows, []string{
					s.Name,
					category,
					strconv.FormatBool(s.Quick),
					strconv.Itoa(len(s.Steps)),
					s.Description,
				})
				steps += len(s.Steps)
			}
			if err := f.PrintTable([]string{"Name", "Category", "Quick", "Steps", "Description"}, rows); err != nil {
				return err
			}
			return f.PrintSummary(fmt.Sprintf("%d suites, %d steps", len(catalog.Suites), steps))
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "Suite catalog override (YAML)")
	return cmd
}
