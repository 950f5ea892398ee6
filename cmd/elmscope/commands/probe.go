// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/cmd/elmscope/internal/format"
	"github.com/elmscope/elmscope/pkg/appctx"
	"github.com/elmscope/elmscope/pkg/logging"
	"github.com/elmscope/elmscope/pkg/probe"
	"github.com/elmscope/elmscope/pkg/report"
	"github.com/elmscope/elmscope/pkg/scoring"
	"github.com/elmscope/elmscope/pkg/session"
	"github.com/elmscope/elmscope/pkg/trafficlog"
	"github.com/elmscope/elmscope/pkg/transport"
)

// NewProbeCommand creates the live compatibility probe command.
func NewProbeCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run compatibility suites against live adapters",
		Long: `Send the probe suites to one or more adapters, score each one and write a
compatibility report. Several --target flags probe adapters concurrently.
The command exits 1 when any target is not ready.`,
		Example: `  elmscope probe --target tcp://192.168.0.10:35000
  elmscope probe --target serial:///dev/rfcomm0?baud=38400 --quick
  elmscope probe --target emulator:// --suite basic,pid --report-format text`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, output)
		},
	}

	cmd.Flags().StringSlice("target", nil, "Adapter to probe: tcp://host:port | serial:///dev/x[?baud=N] | emulator:// (repeatable)")
	cmd.Flags().StringSlice("suite", nil, "Suites to run (default: all)")
	cmd.Flags().Bool("quick", false, "Run only the quick suites")
	cmd.Flags().Duration("timeout", probe.DefaultTimeout, "Per-command response timeout")
	cmd.Flags().Float64("threshold", scoring.DefaultPassThreshold, "Overall score a target needs to be ready")
	cmd.Flags().String("catalog", "", "Suite catalog override (YAML)")
	cmd.Flags().String("target-id", "", "Report label when probing a single target")
	cmd.Flags().String("traffic-log", "", "Append all traffic to this JSONL file")
	cmd.Flags().Bool("preflight-ping", true, "Ping TCP adapters before dialling")
	cmd.Flags().Int("baud", 38400, "Serial baud rate when the target has none")
	cmd.Flags().Uint("dial-attempts", 3, "Dial attempts per target")
	cmd.Flags().String("report-format", "json", "Report format: json|text")
	cmd.Flags().String("report-dir", ".", "Directory for the report when --output is not set")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Report file path")

	return cmd
}

func runProbe(cmd *cobra.Command, output string) error {
	f := format.FromCommand(cmd)
	ctx := cmd.Context()
	cfg := appctx.Settings(ctx)

	targets, err := cfg.ProbeTargets()
	if err != nil {
		return fail(f, "resolve targets", err)
	}
	if err := report.ValidateFormat(cfg.Report.Format); err != nil {
		return fail(f, "probe", err)
	}
	catalog, err := probe.LoadCatalog(cfg.Probe.CatalogFile)
	if err != nil {
		return fail(f, "load suite catalog", err)
	}
	suites, err := catalog.Select(cfg.Probe.Suites, cfg.Probe.Quick)
	if err != nil {
		return fail(f, "select suites", err)
	}
	steps := probe.Steps(suites, cfg.Probe.Timeout)

	tl, err := trafficlog.NewWriter(cfg.TrafficLog.Path)
	if err != nil {
		return fail(f, "open traffic log", err)
	}
	defer func() { _ = tl.Close() }()

	opts := []session.Option{
		session.WithTimeout(cfg.Probe.Timeout),
		session.WithThreshold(cfg.Probe.PassThreshold),
		session.WithTrafficLog(tl),
		session.WithLogger(logging.Component("probe")),
		session.WithDialOptions(transport.DialOptions{
			Attempts: cfg.Transport.DialAttempts,
			Delay:    cfg.Transport.DialDelay,
			BaudRate: cfg.Transport.BaudRate,
		}),
	}
	if cfg.Transport.PreflightPing {
		opts = append(opts, session.WithPreflight(transport.PreflightOptions{}))
	}

	started := time.Now()
	results, runErr := session.New(steps, opts...).Run(ctx, targets)
	if results == nil && runErr != nil {
		return fail(f, "probe", runErr)
	}
	if cfg.Probe.TargetID != "" && len(results) == 1 && results[0].Report != nil {
		results[0].Report.TargetID = cfg.Probe.TargetID
	}

	reports := session.Reports(results)
	if len(reports) > 0 {
		// Saving must survive an interrupted run.
		saveCtx := context.WithoutCancel(ctx)
		written, err := report.SaveCompatibility(saveCtx, output, cfg.Report.Dir, cfg.Report.Format, reports, started)
		if err != nil {
			return fail(f, "write report", err)
		}
		printProbeSummary(f, results)
		_ = f.PrintSummary(fmt.Sprintf("✓ Probed %d target(s) with %d steps → %s", len(targets), len(steps), written))
	}
	if tl.IsEnabled() {
		_ = f.PrintSummary(fmt.Sprintf("  traffic log: %s (%d records)", tl.Path(), tl.Written()))
	}

	switch {
	case runErr != nil:
		return fail(f, "probe", runErr)
	case session.FirstError(results) != nil:
		return fail(f, "probe", session.FirstError(results))
	case !session.AllReady(results):
		return &ExitError{Code: exitNotReady, Err: ErrNotReady}
	}
	return nil
}

func printProbeSummary(f format.Formatter, results []session.Result) {
	if f.Mode() == format.ModeJSON {
		_ = f.PrintJSON(results)
		return
	}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		if res.Report == nil {
			rows = append(rows, []string{res.Target, "-", "-", "-", "-", "-", "ERROR"})
			continue
		}
		rep := res.Report
		status := "NOT READY"
		switch {
		case res.Partial:
			status = "PARTIAL"
		case rep.Ready:
			status = "READY"
		}
		rows = append(rows, []string{
			rep.TargetID,
			fmt.Sprintf("%.2f", rep.OverallScore),
			fmt.Sprintf("%.0f", rep.CategoryScores[probe.CategoryBasic]),
			fmt.Sprintf("%.0f", rep.CategoryScores[probe.CategoryTiming]),
			fmt.Sprintf("%.0f", rep.CategoryScores[probe.CategorySecurity]),
			fmt.Sprintf("%.0f", rep.CategoryScores[probe.CategoryPID]),
			status,
		})
	}
	_ = f.PrintTable([]string{"Target", "Overall", "Basic", "Timing", "Security", "PID", "Status"}, rows)
	for _, res := range results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			_ = f.PrintWarning(fmt.Sprintf("%s: %v", res.Target, res.Err))
		}
	}
}
