// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/logging"
	"github.com/flowforge/flowforge/internal/orchestrator"
)

// buildOrchestrator constructs and initializes an Orchestrator over
// the process-wide loaded configuration.
func buildOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	o, err := orchestrator.New(config.Global, logging.Default())
	if err != nil {
		return nil, fmt.Errorf("constructing orchestrator: %w", err)
	}
	if err := o.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing orchestrator: %w", err)
	}
	return o, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("start requires exactly one non-empty prompt argument: %w", errInvalidArgs)
	}

	ctx := cmd.Context()
	o, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer o.Terminate(ctx)

	operationID, err := o.Start(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"operation_id": operationID})
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("status requires exactly one operation id argument: %w", errInvalidArgs)
	}

	ctx := cmd.Context()
	o, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer o.Terminate(ctx)

	op, err := o.Status(args[0])
	if err != nil {
		return err
	}
	return printJSON(op)
}

func runStep(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("step requires exactly one operation id argument: %w", errInvalidArgs)
	}

	ctx := cmd.Context()
	o, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer o.Terminate(ctx)

	op, err := o.Step(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(op)
}
