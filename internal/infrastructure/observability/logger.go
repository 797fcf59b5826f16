package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger. Every line carries the service name so
// API and worker output can share a sink.
func InitLogger(level, service string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}

	return zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

// LogOutput wraps w for the configured format. "console" is meant for local
// runs; anything else keeps JSON lines.
func LogOutput(format string, w io.Writer) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// EventLogger scopes a logger to one gateway event.
func EventLogger(logger zerolog.Logger, provider, eventID, kind string) zerolog.Logger {
	return logger.With().
		Str("provider", provider).
		Str("event_id", eventID).
		Str("event_kind", kind).
		Logger()
}
