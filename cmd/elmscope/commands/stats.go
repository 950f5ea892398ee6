// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/elmscope/elmscope/cmd/elmscope/internal/format"
	"github.com/elmscope/elmscope/pkg/config"
	"github.com/elmscope/elmscope/pkg/trafficlog"
)

// NewStatsCommand creates a command that aggregates a traffic log.
func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stats <traffic-log>",
		Short:   "Summarise a JSONL traffic log written by probe",
		GroupID: "analysis",
		Args:    cobra.ExactArgs(1),
		RunE:    runStats,
	}

	cmd.Flags().String("session", "", "Only count records of this session")
	cmd.Flags().String("since", "", "Start time filter (RFC3339 format: 2024-01-01T00:00:00Z)")
	cmd.Flags().String("until", "", "End time filter (RFC3339 format: 2024-01-31T23:59:59Z)")
	cmd.Flags().Int("top-n", 10, "Number of top commands to include")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	f := format.FromCommand(cmd)

	session, _ := cmd.Flags().GetString("session")
	sinceStr, _ := cmd.Flags().GetString("since")
	untilStr, _ := cmd.Flags().GetString("until")
	topN, _ := cmd.Flags().GetInt("top-n")

	filter := &trafficlog.StatsFilter{Session: session, TopN: topN}
	if sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return fail(f, "parse --since flag", config.NewConfigurationError(err.Error()))
		}
		filter.Since = &since
	}
	if untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return fail(f, "parse --until flag", config.NewConfigurationError(err.Error()))
		}
		filter.Until = &until
	}

	stats, err := trafficlog.Analyze(cmd.Context(), args[0], filter)
	if err != nil {
		return fail(f, "analyze traffic log", err)
	}

	if f.Mode() == format.ModeJSON {
		return f.PrintJSON(stats)
	}
	printStats(cmd, f, stats)
	return nil
}

func printStats(cmd *cobra.Command, f format.Formatter, stats *trafficlog.Stats) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Traffic Log Statistics")
	_, _ = fmt.Fprintln(out, "======================")
	if !stats.StartTime.IsZero() {
		_, _ = fmt.Fprintf(out, "Time Range: %s to %s (%s)\n",
			stats.StartTime.Format(time.RFC3339), stats.EndTime.Format(time.RFC3339),
			stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
	}
	_, _ = fmt.Fprintf(out, "Records:    %d (%d tx, %d rx)\n", stats.TotalRecords, stats.TX, stats.RX)
	_, _ = fmt.Fprintf(out, "Errors:     %d (%.2f%% of responses)\n", stats.Errors, stats.ErrorRate*100)
	_, _ = fmt.Fprintf(out, "Unknown:    %d\n", stats.Unknown)
	if stats.Malformed > 0 {
		_, _ = fmt.Fprintf(out, "Malformed:  %d lines skipped\n", stats.Malformed)
	}
	_, _ = fmt.Fprintln(out)

	sessions := make([]string, 0, len(stats.Sessions))
	for id := range stats.Sessions {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	rows := make([][]string, 0, len(sessions))
	for _, id := range sessions {
		ss := stats.Sessions[id]
		rows = append(rows, []string{id, strconv.Itoa(ss.Records), strconv.Itoa(ss.TX), strconv.Itoa(ss.RX), strconv.Itoa(ss.Errors)})
	}
	_ = f.PrintTable([]string{"Session", "Records", "TX", "RX", "Errors"}, rows)

	if len(stats.TopCommands) > 0 {
		_, _ = fmt.Fprintln(out)
		rows = rows[:0]
		for _, c := range stats.TopCommands {
			rows = append(rows, []string{c.Command, strconv.Itoa(c.Count)})
		}
		_ = f.PrintTable([]string{"Command", "Count"}, rows)
	}
}
