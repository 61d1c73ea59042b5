// Package applog configures the single zerolog.Logger the rest of the
// program logs through. There is no global logger singleton beyond
// what zerolog itself keeps internally — callers receive a value and
// pass it down explicitly.
package applog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-writer logger. verbose raises the level to
// debug (the -v flag); otherwise only info-and-above is emitted.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
