// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/internal/config"
)

// Exit codes, per the CLI's documented contract.
const (
	exitSuccess     = 0
	exitInvalidArgs = 1
	exitNotFound    = 2
	exitInternal    = 3
)

// errInvalidArgs marks a command error as a usage problem rather than
// an operational one, so exitCodeFor can tell it apart from a failed
// lookup or an internal error.
var errInvalidArgs = errors.New("invalid arguments")

func main() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		if code != exitSuccess {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

// exitCodeFor classifies a command error into the CLI's exit-code
// contract: 1 invalid args, 2 not found, 3 everything else.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errInvalidArgs):
		return exitInvalidArgs
	case apierrors.Classify(err) == apierrors.KindNotFound:
		return exitNotFound
	default:
		return exitInternal
	}
}
