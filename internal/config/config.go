// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides configuration types and loading for the
// orchestrator core.
//
// # Configuration file
//
// The configuration is stored at ~/.flowforge/config.yaml and is
// created automatically with defaults on first run. Every field can
// also be set via environment variable, which takes precedence over
// the file (see Overlay).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	State       StateConfig       `yaml:"state"`
	History     HistoryConfig     `yaml:"history"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Memory      MemoryConfig      `yaml:"memory"`
}

type StateConfig struct {
	Backend string `yaml:"backend"` // "memory" | "file" | "sql"
	Dir     string `yaml:"dir"`
}

type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

type CoordinationConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

type CircuitConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	RecoveryTimeoutSec time.Duration `yaml:"recovery_timeout_sec"`
}

type MemoryConfig struct {
	WarnPct     float64 `yaml:"warn_pct"`
	CriticalPct float64 `yaml:"critical_pct"`
}

// Default returns the built-in defaults matching spec.md's environment
// variable defaults.
func Default() Config {
	return Config{
		State:        StateConfig{Backend: "memory", Dir: "~/.flowforge/state"},
		History:      HistoryConfig{RetentionDays: 30},
		Coordination: CoordinationConfig{MaxIterations: 5},
		Circuit:      CircuitConfig{FailureThreshold: 5, RecoveryTimeoutSec: 30 * time.Second},
		Memory:       MemoryConfig{WarnPct: 75.0, CriticalPct: 90.0},
	}
}

var (
	Global Config
	once   sync.Once
)

// Load ensures Global is populated exactly once: from
// ~/.flowforge/config.yaml (created with defaults on first run), then
// overlaid with environment variables.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	path := filepath.Join(home, ".flowforge", "config.yaml")

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := createDefault(path); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	Overlay(&cfg, os.Environ)
	Global = cfg
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Overlay applies spec.md §6's environment variables on top of cfg,
// taking precedence over whatever the file set. envFn is not used:
// every variable is read with os.LookupEnv, so tests set and unset
// vars per-case through the process environment.
func Overlay(cfg *Config, envFn func() []string) {
	_ = envFn
	if v, ok := os.LookupEnv("STATE_BACKEND"); ok {
		cfg.State.Backend = v
	}
	if v, ok := os.LookupEnv("STATE_DIR"); ok {
		cfg.State.Dir = v
	}
	if v, ok := os.LookupEnv("HISTORY_RETENTION_DAYS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.RetentionDays = n
		}
	}
	if v, ok := os.LookupEnv("COORDINATION_MAX_ITERATIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordination.MaxIterations = n
		}
	}
	if v, ok := os.LookupEnv("CIRCUIT_FAILURE_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Circuit.FailureThreshold = n
		}
	}
	if v, ok := os.LookupEnv("CIRCUIT_RECOVERY_TIMEOUT_SEC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Circuit.RecoveryTimeoutSec = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("MEMORY_WARN_PCT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.WarnPct = f
		}
	}
	if v, ok := os.LookupEnv("MEMORY_CRITICAL_PCT"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.CriticalPct = f
		}
	}
}

// ExpandDir resolves a leading "~/" in a directory path against the
// current user's home directory.
func ExpandDir(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
