// Package logger builds the zerolog logger shared by cidl commands.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string    // debug, info, warn, error
	Format     string    // json, console
	TimeFormat string    // time format for console output
	Output     io.Writer // defaults to os.Stderr
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.Kitchen,
		Output:     os.Stderr,
	}
}

// New creates a logger from cfg.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "json") {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		timeFormat := cfg.TimeFormat
		if timeFormat == "" {
			timeFormat = time.Kitchen
		}
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: timeFormat,
			NoColor:    !IsTerminal(out),
		}).With().Timestamp().Logger()
	}
	return logger.Level(ParseLevel(cfg.Level))
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off", "quiet":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
