// Package logging wires a zerolog.Logger in the bracketed-component style
// the rest of this repo's call sites expect: Component(l, "pool").Info().Msg("...").
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-writer zerolog.Logger with millisecond timestamps,
// matching the log.LstdFlags|log.Lmicroseconds format the orchestrator used.
func New() zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05.000"}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the bracketed component name
// style older log.Printf("[pool] ...") call sites used, e.g. Component(l, "pool").
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
