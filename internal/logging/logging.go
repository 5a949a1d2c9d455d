// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog output and level from ENV and LOGLEVEL.
func Setup() {
	SetupWriter(os.Stderr, os.Getenv("ENV"), os.Getenv("LOGLEVEL"))
}

// SetupWriter is Setup with explicit inputs.
func SetupWriter(out io.Writer, env, level string) {
	if env == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	lvl, err := parseLevel(level)
	if err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("loglevel", level).Msg("Unknown LOGLEVEL, defaulting to info")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// parseLevel accepts zerolog level names plus "warning"; empty means info
func parseLevel(level string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		name = "warn"
	}
	return zerolog.ParseLevel(name)
}
