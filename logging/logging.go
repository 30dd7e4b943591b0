// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level   string
	Console bool

	// Out defaults to stderr.
	Out io.Writer
}

// New returns a logger at the configured level and installs it as the zerolog
// global logger.
func New(cfg *Config) (zerolog.Logger, error) {
	if cfg == nil {
		return zerolog.Nop(), fmt.Errorf("config is nil")
	}

	level := zerolog.InfoLevel

	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}

		level = parsed
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	if cfg.Console {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("app", "mycroft-listener").
		Logger()

	log.Logger = logger

	return logger, nil
}
