// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// New returns a root logger writing to out (stderr when nil). format is
// "json" or "console".
func New(level, format string, out io.Writer) zerolog.Logger {
	zerolog.ErrorFieldName = "err"
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = out
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	SetLevel(level)
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel changes the process-wide minimum level. Unknown names mean info.
func SetLevel(level string) zerolog.Level {
	l := ParseLevel(level, zerolog.InfoLevel)
	zerolog.SetGlobalLevel(l)
	return l
}

// ParseLevel maps a level name to a zerolog level, def when unknown.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return def
}
