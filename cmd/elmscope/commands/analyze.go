// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/cmd/elmscope/internal/format"
	"github.com/elmscope/elmscope/pkg/analysis"
	"github.com/elmscope/elmscope/pkg/appctx"
	"github.com/elmscope/elmscope/pkg/config"
	"github.com/elmscope/elmscope/pkg/fingerprint"
	"github.com/elmscope/elmscope/pkg/heuristics"
	"github.com/elmscope/elmscope/pkg/logging"
	"github.com/elmscope/elmscope/pkg/report"
)

type analyzeOptions struct {
	output   string
	compare  []string
	session  string
	watch    bool
	debounce time.Duration
}

// NewAnalyzeCommand creates the offline capture analysis command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <capture>",
		Short: "Fingerprint adapters and detect security mechanisms in a capture",
		Long: `Read a Wireshark JSON export, a pcap of WiFi adapter traffic or an
elmscope traffic log, pair every AT command with its response and write an
analysis report.`,
		Example: `  elmscope analyze capture.json
  elmscope analyze wifi.pcap --port 35000 --report-format text
  elmscope analyze capture.json --compare aa:bb:cc:dd:ee:01,aa:bb:cc:dd:ee:02
  elmscope analyze traffic.jsonl --watch`,
		GroupID: "analysis",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().String("format", "auto", "Capture format: auto|wireshark|pcap|trafficlog")
	cmd.Flags().String("rules", "", "Heuristic rule table override (YAML)")
	cmd.Flags().Float64("timing-threshold", 10, "Latency in ms below which a response counts as suspiciously fast")
	cmd.Flags().Int("port", 35000, "Adapter TCP port in pcap captures")
	cmd.Flags().String("report-format", "json", "Report format: json|text")
	cmd.Flags().String("report-dir", ".", "Directory for the report when --output is not set")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Report file path")
	cmd.Flags().StringSliceVar(&opts.compare, "compare", nil, "Compare two devices: --compare ID1,ID2 (repeatable in pairs)")
	cmd.Flags().StringVar(&opts.session, "session", "", "Only replay this session of a traffic log")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-analyse whenever the capture changes")
	cmd.Flags().DurationVar(&opts.debounce, "watch-debounce", analysis.DefaultDebounce, "Quiet period before re-analysing")

	return cmd
}

func runAnalyze(cmd *cobra.Command, path string, opts *analyzeOptions) error {
	f := format.FromCommand(cmd)
	ctx := cmd.Context()
	cfg := appctx.Settings(ctx)

	pairs, err := comparePairs(opts.compare)
	if err != nil {
		return fail(f, "parse --compare", err)
	}

	detector, err := buildDetector(cfg.Analysis)
	if err != nil {
		return fail(f, "load heuristic rules", err)
	}
	logger := logging.Component("analysis")
	analyzer, err := analysis.New(
		analysis.WithDetector(detector),
		analysis.WithComparisons(pairs...),
		analysis.WithLogger(logger),
	)
	if err != nil {
		return fail(f, "build analyzer", err)
	}
	src, err := analysis.OpenSource(cfg.Analysis.Format, path, analysis.SourceOptions{
		Port:    uint16(cfg.Analysis.Port),
		Session: opts.session,
	})
	if err != nil {
		return fail(f, "open capture", err)
	}
	if err := report.ValidateFormat(cfg.Report.Format); err != nil {
		return fail(f, "analyze capture", err)
	}

	once := func(ctx context.Context) error {
		rep, err := analyzer.Analyze(ctx, src)
		if rep == nil {
			return err
		}
		written, saveErr := report.SaveAnalysis(ctx, opts.output, cfg.Report.Dir, cfg.Report.Format, rep)
		if saveErr != nil {
			return saveErr
		}
		printAnalysisSummary(f, rep, written)
		return err
	}

	if err := once(ctx); err != nil && !opts.watch {
		return fail(f, "analyze capture", err)
	} else if err != nil {
		_ = f.PrintWarning(err.Error())
	}
	if !opts.watch {
		return nil
	}

	// With --output unset every run gets a new timestamped file.
	w, err := analysis.NewWatcher(path, opts.debounce, logger)
	if err != nil {
		return fail(f, "watch capture", err)
	}
	err = w.Run(ctx, func(ctx context.Context) {
		if err := once(ctx); err != nil {
			_ = f.PrintWarning(err.Error())
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fail(f, "watch capture", err)
	}
	return nil
}

func buildDetector(cfg config.AnalysisConfig) (*heuristics.Detector, error) {
	var (
		rules *heuristics.RuleSet
		err   error
	)
	if cfg.RulesFile != "" {
		rules, err = heuristics.LoadRulesFile(cfg.RulesFile)
	} else {
		rules, err = heuristics.DefaultRules()
	}
	if err != nil {
		return nil, err
	}
	return heuristics.NewDetector(heuristics.WithRules(rules.WithTimingThreshold(cfg.TimingThresholdMs)))
}

func comparePairs(ids []string) ([]analysis.DevicePair, error) {
	if len(ids)%2 != 0 {
		return nil, config.NewConfigurationError("--compare takes device ids in pairs, got " + strings.Join(ids, ","))
	}
	pairs := make([]analysis.DevicePair, 0, len(ids)/2)
	for i := 0; i < len(ids); i += 2 {
		pairs = append(pairs, analysis.DevicePair{ids[i], ids[i+1]})
	}
	return pairs, nil
}

func printAnalysisSummary(f format.Formatter, rep *analysis.Report, written string) {
	if f.Mode() == format.ModeJSON {
		_ = f.PrintJSON(rep)
	} else {
		ids := make([]string, 0, len(rep.Fingerprints))
		for id := range rep.Fingerprints {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			fp := rep.Fingerprints[id]
			rows = append(rows, deviceRow(fp))
		}
		_ = f.PrintTable([]string{"Device", "Exchanges", "Avg ms", "Errors", "Firmware"}, rows)
		for _, finding := range rep.SecurityFindings {
			_ = f.PrintWarning(fmt.Sprintf("[%s] %s: %s", finding.Severity, finding.Kind, finding.Description))
		}
	}
	_ = f.PrintSummary(fmt.Sprintf("✓ Analysed %d packets, %d exchanges, %d findings → %s",
		rep.PacketCount, rep.CommandCount, len(rep.SecurityFindings), written))
}

func deviceRow(fp fingerprint.Fingerprint) []string {
	fw := fp.FirmwareVersion
	if fw == "" {
		fw = "-"
	}
	return []string{
		fp.DeviceID,
		fmt.Sprint(fp.ExchangeCount),
		fmt.Sprintf("%.2f", fp.AvgResponseTimeMs),
		fmt.Sprintf("%.1f%%", fp.ErrorRate*100),
		fw,
	}
}
