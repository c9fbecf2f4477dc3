// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowforge",
	Short: "Drive and inspect orchestrator operations",
	Long: `flowforge starts and advances orchestrator operations: a prompt
becomes an operation, which progresses one phase at a time through
complexity analysis and coordination.`,
}

// Args validation is done inside each RunE rather than via cobra's
// Args field so a bad invocation maps to errInvalidArgs and therefore
// exit code 1, not cobra's own usage-error path.
var startCommand = &cobra.Command{
	Use:   "start [prompt]",
	Short: "Start a new operation from a prompt",
	RunE:  runStart,
}

var statusCommand = &cobra.Command{
	Use:   "status [operation_id]",
	Short: "Show an operation's current progress",
	RunE:  runStatus,
}

var stepCommand = &cobra.Command{
	Use:   "step [operation_id]",
	Short: "Advance an operation by exactly one phase",
	RunE:  runStep,
}

func init() {
	rootCmd.AddCommand(startCommand)
	rootCmd.AddCommand(statusCommand)
	rootCmd.AddCommand(stepCommand)
}
