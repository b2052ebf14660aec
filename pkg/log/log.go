// Package log configures the process-wide structured logger shared by the
// sequent binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog logger. Level names are case-insensitive;
// unknown names fall back to info. Set SEQUENT_LOG_FORMAT=json for JSON
// output, which the log pipeline expects in production.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("SEQUENT_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithModule returns the default logger tagged with a module attribute.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
