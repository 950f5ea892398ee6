// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/pkg/appctx"
	"github.com/elmscope/elmscope/pkg/config"
	"github.com/elmscope/elmscope/pkg/logging"
	"github.com/elmscope/elmscope/pkg/paths"
)

const cliExecutable = "elmscope"

// NewCommand constructs the top-level elmscope CLI command. Configuration is
// loaded once per invocation, after flag parsing, and put on the context.
func NewCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Analyse and probe ELM327 OBD-II adapters",
		Long: `elmscope studies ELM327 adapter traffic. It pairs AT commands with their
responses in captures, fingerprints each adapter, flags security mechanisms
a replacement would have to satisfy, and scores live adapters for
compatibility.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = paths.DefaultConfigFile()
			}
			mgr := config.NewManager()
			if err := mgr.Load(cmd.Flags(), configFile, debug); err != nil {
				return err
			}
			cfg := mgr.Get()
			if err := logging.ConfigureGlobalLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			ctx := appctx.WithConfig(cmd.Context(), mgr)
			ctx = appctx.WithRunID(ctx)
			runID, _ := appctx.RunID(ctx)
			log.Debug().Str("run_id", runID).Str("command", cmd.Name()).Msg("configuration loaded")

			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (default: $XDG_CONFIG_HOME/elmscope/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Shortcut for --log-level debug")
	cmd.PersistentFlags().String("log-level", "info", "Log level: trace|debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text|json")
	cmd.PersistentFlags().Bool("json", false, "Print command output as JSON")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress summaries")
	cmd.PersistentFlags().Bool("no-color", false, "Disable coloured output")

	cmd.AddGroup(&cobra.Group{ID: "analysis", Title: "Analysis Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(NewAnalyzeCommand())
	cmd.AddCommand(NewCompareCommand())
	cmd.AddCommand(NewStatsCommand())
	cmd.AddCommand(NewProbeCommand())
	cmd.AddCommand(NewSuitesCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the CLI and returns the process exit code. Errors a command
// already reported are not printed again.
func Execute(ctx context.Context, cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		for _, s := range suggestions(err) {
			_, _ = fmt.Fprintf(stderr, "  → %s\n", s)
		}
	}
	return ExitCode(err)
}
