package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates the process logger. VAULT_LOG_LEVEL sets the level
// (default info) and VAULT_LOG_FORMAT=console switches from JSON to
// human-readable output for local runs.
func NewLogger(component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if os.Getenv("VAULT_LOG_FORMAT") == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(out, component, parseLogLevel(os.Getenv("VAULT_LOG_LEVEL")))
}

func newLogger(out io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// parseLogLevel falls back to info for empty or unknown values.
func parseLogLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	// RFC3339 timestamps with sub-second precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
