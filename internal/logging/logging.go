// Package logging constructs the zerolog logger shared by every
// component, the way danmuck-edgectl's internal/observability package
// builds one console-writer logger and stamps an "app" field on it.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-writer zerolog.Logger tagged with component,
// e.g. "registry", "session", "multiblock". Callers derive further
// per-instance loggers with .With() (sessionId, multiblockId, ...).
func New(component string) zerolog.Logger {
	return NewWithWriter(os.Stderr, component)
}

// NewWithWriter is New but writing to an arbitrary io.Writer, used by
// tests that want to capture log output.
func NewWithWriter(w io.Writer, component string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Str("component", component).Logger()
}
