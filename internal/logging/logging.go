// Package logging builds the single zerolog.Logger passed by reference
// into every component at bootstrap, replacing the teacher's
// log.Printf calls with structured, leveled output.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the bootstrap logger's output shape.
type Config struct {
	// Level is a zerolog level name: "debug", "info", "warn", "error".
	Level string
	// Pretty enables the human-readable console writer instead of JSON
	// lines; intended for local/dev runs, not production daemons.
	Pretty bool
}

// New constructs the process-wide logger. It is the only logger built
// anywhere in the repository; every component receives it (or a
// `.With()` derivative) by constructor argument.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
