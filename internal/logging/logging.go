// Package logging sets up the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Init builds a logger on stderr, human-readable when attached to a terminal.
func Init(level string) logr.Logger {
	console := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return New(os.Stderr, level, console)
}

// New builds a logger writing to w at the given level.
func New(w io.Writer, level string, console bool) logr.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	zl := zerolog.New(w)
	if console {
		zl = zl.Output(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    os.Getenv("NO_COLOR") != "",
			TimeFormat: time.RFC3339,
		})
	}
	zl = zl.Level(ParseLevel(level)).With().Timestamp().Logger()
	return zerologr.New(&zl)
}

// ParseLevel maps a config level to zerolog, falling back to info.
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}
