// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the orchestrator core.
//
// # Architecture
//
// Built on log/slog, with an optional second destination for file
// output alongside the default stderr stream:
//
//	Logger -> stderr (always) -> optional log file (Config.LogDir)
//
// # Basic usage
//
//	logger := logging.Default()
//	logger.Info("phase started", "phase_id", id)
//
// # Thread Safety
//
// Logger wraps *slog.Logger, which is safe for concurrent use.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level mirrors slog's severity ordering: Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger. The zero value logs Info+ to stderr as text.
type Config struct {
	Level   Level
	LogDir  string // if set, also write JSON logs to {LogDir}/{Service}_{date}.log
	Service string
	JSON    bool
}

// Logger wraps *slog.Logger and owns an optional log file handle.
type Logger struct {
	*slog.Logger
	mu   sync.Mutex
	file *os.File
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns a process-wide stderr logger at Info level, created
// once and reused. Leaf helpers that don't carry a *Logger reference
// may fall back to this.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(Config{})
	})
	return defaultLogger
}

// New builds a Logger per cfg. If cfg.LogDir is set, logs are written
// to both stderr and a JSON file under that directory; callers must
// call Close to flush and release the file handle.
func New(cfg Config) *Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}

	var out io.Writer = os.Stderr
	l := &Logger{}

	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			service := cfg.Service
			if service == "" {
				service = "flowforge"
			}
			name := service + "_" + time.Now().UTC().Format("2006-01-02") + ".log"
			if f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				l.file = f
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}

	var handler slog.Handler
	if cfg.JSON || cfg.LogDir != "" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l.Logger = slog.New(handler)
	return l
}

// Close flushes and closes the log file, if one was opened. Safe to
// call on a Logger created without file output.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// With returns a Logger that adds the given attributes to every record,
// sharing the same underlying file handle.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
