// Package logging builds the root zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger in dev and a JSON logger otherwise.
func New(level zerolog.Level, dev bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, dev)
}

func NewWithWriter(w io.Writer, level zerolog.Level, dev bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "acuamon-api").
		Logger()
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
