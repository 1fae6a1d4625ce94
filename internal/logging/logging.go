// SPDX-License-Identifier: Apache-2.0

// Package logging provides the minimal structured logger every
// database-touching component depends on, backed by pterm for CLI
// rendering and a no-op implementation for library/test use.
package logging

import "github.com/pterm/pterm"

// Logger is the narrow structured-logging surface shared across executor,
// restorer, seed applier, and view manager. Deliberately small: Confiture
// has no rich logging-level hierarchy beyond these four.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

// New returns a Logger that renders through pterm's structured logger, for
// CLI usage.
func New() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func (l *ptermLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Info(msg string, args ...any)  { l.logger.Info(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.logger.Args(args...)) }

type noopLogger struct{}

// NoopLogger discards every log line, used by default in library callers
// (tests, embedders) that have not wired a real logger.
var NoopLogger Logger = noopLogger{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
