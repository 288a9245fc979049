// Package logging configures the structured logger shared by every
// component. No component reaches for a package-level logger: each
// constructor takes a zerolog.Logger, per the "no pervasive global
// state" redesign flag (spec.md §9).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Pretty bool   // human-readable console output instead of JSON
	Output io.Writer
}

// New builds a root logger. Child loggers are derived with
// logger.With().Str("component", name).Logger() at each subsystem's
// construction site.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards all output, for use in tests and
// in library code that doesn't own its own output stream.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
