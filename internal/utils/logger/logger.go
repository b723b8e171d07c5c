// Package logger provides the global logger for the application.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger: console output on stderr
// and a level taken from the environment. Diagnostics stay on stderr
// so the report on stdout remains clean.
func Init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	switch strings.ToLower(os.Getenv("VOTEWATCH_LOG_LEVEL")) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "", "info":
	default:
		log.Warn().Str("level", os.Getenv("VOTEWATCH_LOG_LEVEL")).
			Msg("unknown log level, defaulting to info")
	}
	zerolog.SetGlobalLevel(level)
}
