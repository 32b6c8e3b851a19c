// Package log is a thin slog wrapper with -v style verbosity levels and
// single-line progress output for long sync runs.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Verbosity levels
const (
	LevelQuiet = iota // Default: only errors and warnings
	LevelInfo         // -v: per-page progress, summary detail
	LevelDebug        // -vv: API calls, cache hits, retry decisions
)

var (
	verbosity  int
	logger     *slog.Logger
	output     io.Writer
	inProgress bool // tracks if we have an in-progress line
)

// Initialize sets up the global logger with the specified verbosity level
func Initialize(level int, w io.Writer) {
	verbosity = level
	output = w

	slogLevel := slog.LevelWarn
	switch {
	case level >= LevelDebug:
		slogLevel = slog.LevelDebug
	case level >= LevelInfo:
		slogLevel = slog.LevelInfo
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogLevel,
	}))
}

// Info logs at info level (-v)
func Info(msg string, args ...any) {
	if verbosity >= LevelInfo {
		clearProgress()
		logger.Info(msg, args...)
	}
}

// Debug logs at debug level (-vv)
func Debug(msg string, args ...any) {
	if verbosity >= LevelDebug {
		clearProgress()
		logger.Debug(msg, args...)
	}
}

// Warn logs at warn level (always visible)
func Warn(msg string, args ...any) {
	clearProgress()
	logger.Warn(msg, args...)
}

// Error logs at error level (always visible)
func Error(msg string, args ...any) {
	clearProgress()
	logger.Error(msg, args...)
}

// Progress prints a progress message with carriage return (no newline).
// Only shown at info level or higher.
func Progress(format string, args ...any) {
	if verbosity >= LevelInfo {
		inProgress = true
		_, _ = fmt.Fprintf(output, "\r"+format, args...)
	}
}

// ProgressDone completes a progress line with "done" and newline
func ProgressDone() {
	if verbosity >= LevelInfo && inProgress {
		_, _ = fmt.Fprintln(output, " done")
		inProgress = false
	}
}

// clearProgress ensures we don't write over a progress line
func clearProgress() {
	if inProgress {
		_, _ = fmt.Fprintln(output)
		inProgress = false
	}
}

func init() {
	output = os.Stderr
	verbosity = LevelQuiet
	logger = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}
