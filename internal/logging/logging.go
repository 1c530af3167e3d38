// Package logging builds slog.Logger instances in the donor's handler
// style (internal/logger/slog.go: JSON handler for production, text
// handler otherwise) but as an injectable constructor rather than a
// package-level singleton initialized once via InitSlog/Slog globals.
// The specification calls out the donor's global logger as something to
// leave behind so a process can run more than one Client without the
// loggers stepping on each other.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the handler implementation.
type Format int

const (
	// FormatText renders human-readable lines (the default, suited to a
	// developer's terminal).
	FormatText Format = iota
	// FormatJSON renders one JSON object per line, suited to log
	// aggregation in production.
	FormatJSON
)

// Options configures a constructed Logger.
type Options struct {
	// Format selects text or JSON output. Zero value is FormatText.
	Format Format
	// Level sets the minimum level logged. Zero value is slog.LevelInfo.
	Level slog.Level
	// Output is the destination. Defaults to os.Stderr, keeping stdout
	// free for any protocol traffic a caller might be multiplexing
	// alongside logs.
	Output io.Writer
}

// New builds a *slog.Logger per opts. Passing a zero-value Options
// yields a text logger at Info level writing to stderr.
func New(opts Options) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything, for tests and callers
// that opt out of logging entirely.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithSession returns a derived logger carrying sessionId as a
// structured field on every subsequent record, the non-global
// counterpart of the donor's context-key based WithContext helper.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With("sessionId", sessionID)
}
