// Package logging builds the zerolog loggers handed to every service.
package logging

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to w (stdout when nil) at level, in json or
// console format. An unknown level falls back to info and says so.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(format, FormatConsole) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, bad := parseLevel(level)
	ctx := zerolog.New(w).With().Timestamp()
	if lvl <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger().Level(lvl)
	if bad {
		logger.Warn().Str("log_level", level).Msg("invalid log level, defaulting to info")
	}
	return logger
}

// SetGlobal makes logger the package-level zerolog logger and routes the
// standard library logger through it at debug level.
func SetGlobal(logger zerolog.Logger) {
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{logger: logger})
}

func parseLevel(s string) (zerolog.Level, bool) {
	if s == "" {
		return zerolog.InfoLevel, false
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, true
	}
	return lvl, false
}

// stdWriter forwards lines written by the standard logger (driver and
// net/http internals) as debug events.
type stdWriter struct {
	logger zerolog.Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Str("source", "stdlog").Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
