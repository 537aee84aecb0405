// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package logger provides the structured logger used across geopose.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so that call sites only depend on this package.
type Logger struct {
	*slog.Logger
}

// New returns a Logger writing text-formatted log lines to STDERR.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger writing text-formatted log lines to the given output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Err wraps an error into a slog.Attr for consistent error logging.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}
