// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package format

import (
	"os"

	"github.com/spf13/cobra"
)

// FromCommand builds a Formatter from the command's writers and the
// persistent --json, --quiet and --no-color flags.
func FromCommand(cmd *cobra.Command) Formatter {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	mode := ModeTable
	if boolFlag(cmd, "json") {
		mode = ModeJSON
	}
	return New(stdout, stderr, mode, boolFlag(cmd, "quiet"), !boolFlag(cmd, "no-color"))
}

// boolFlag reads a flag that may be absent on commands built in tests.
func boolFlag(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Lookup(name) == nil {
		return false
	}
	v, err := cmd.Flags().GetBool(name)
	return err == nil && v
}
