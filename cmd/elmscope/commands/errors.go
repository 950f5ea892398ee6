// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/config"
	"github.com/elmscope/elmscope/pkg/fingerprint"
	"github.com/elmscope/elmscope/pkg/heuristics"
	"github.com/elmscope/elmscope/pkg/probe"
	"github.com/elmscope/elmscope/pkg/report"
	"github.com/elmscope/elmscope/pkg/transport"
)

// Exit codes owned by the CLI itself.
const (
	exitNotReady    = 1
	exitInterrupted = 130
)

// ErrNotReady is returned by probe when a target scored below the threshold.
var ErrNotReady = errors.New("target not ready")

// ExitError carries an exit code to main after the command already reported
// the failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// packageErrors is every package that maps its errors to codes and hints.
var packageErrors = []struct {
	exitCode    func(error) int
	errorCode   func(error) string
	suggestions func(error) []string
}{
	{config.ExitCode, config.ErrorCode, config.Suggestions},
	{transport.ExitCode, transport.ErrorCode, transport.Suggestions},
	{capture.ExitCode, capture.ErrorCode, capture.Suggestions},
	{heuristics.ExitCode, heuristics.ErrorCode, heuristics.Suggestions},
	{probe.ExitCode, probe.ErrorCode, probe.Suggestions},
	{report.ExitCode, report.ErrorCode, report.Suggestions},
	// fingerprint reports FINGERPRINT_INTERNAL for foreign errors, so it goes last.
	{fingerprint.ExitCode, fingerprint.ErrorCode, fingerprint.Suggestions},
}

// ExitCode resolves err to the exit code of the package that owns it.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	if errors.Is(err, ErrNotReady) {
		return exitNotReady
	}
	for _, p := range packageErrors {
		if code := p.exitCode(err); code > 1 {
			return code
		}
	}
	return 1
}

func errorCode(err error) string {
	for _, p := range packageErrors {
		if code := p.errorCode(err); code != "" {
			return code
		}
	}
	return ""
}

func suggestions(err error) []string {
	for _, p := range packageErrors {
		if s := p.suggestions(err); len(s) > 0 {
			return s
		}
	}
	return nil
}

// fail reports err through the formatter and wraps it with its exit code.
func fail(f interface {
	PrintFailure(string, error, string, []string) error
}, operation string, err error) error {
	_ = f.PrintFailure(operation, err, errorCode(err), suggestions(err))
	return &ExitError{Code: ExitCode(err), Err: fmt.Errorf("%s: %w", operation, err)}
}
