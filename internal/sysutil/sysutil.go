// Package sysutil configures the process-wide zerolog logger.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LoggerOptions selects the output format of the global logger.
type LoggerOptions struct {
	Level   string
	Pretty  bool      // human-readable console output for local runs
	Service string    // added to every line when set
	Out     io.Writer // defaults to os.Stdout
}

// SetupLogger installs the global logger and makes it the fallback for
// log.Ctx on contexts that carry no request logger, such as detached
// webhook processing and CLI commands.
func SetupLogger(opts LoggerOptions) zerolog.Logger {
	SetLogLevel(opts.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lc := zerolog.New(out).With().Timestamp()
	if s := strings.TrimSpace(opts.Service); s != "" {
		lc = lc.Str("service", s)
	}
	log.Logger = lc.Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}

// FirstNonEmpty returns the first non-empty string from a variadic list.
// If all values are empty, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
