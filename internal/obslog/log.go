// Package obslog wires zerolog for every engine subsystem. Level is read
// once from OBLIVION_LOG (RUST_LOG-style: "trace", "debug", "info", "warn",
// "error", or empty for the default). This is the logging collaborator
// spec.md §1 keeps out of the core's behavioral contract, but the ambient
// stack still carries it the way the teacher/pack repos do.
package obslog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := levelFromEnv(os.Getenv("OBLIVION_LOG"))
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
		Level(level).
		With().Timestamp().Logger()
}

func levelFromEnv(v string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "none":
		return zerolog.Disabled
	case "info":
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

// For returns a logger tagged with component=name, e.g. obslog.For("wal").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
