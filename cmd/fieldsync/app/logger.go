package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/logging"
)

// NewLogger creates the CLI logger. Level precedence, highest first:
// --log-level, -q/--quiet, -v/--verbose, LOG_LEVEL, info.
func NewLogger(config *Config) zerolog.Logger {
	level := logLevel(config)
	return logging.NewLoggerFromConfig(&logging.Config{
		Level:     level,
		Format:    config.LogFormat,
		Output:    config.LogOutput,
		NoColor:   config.NoColor,
		AddCaller: level == "debug" || level == "trace",
	})
}

func logLevel(config *Config) string {
	if config.LogLevel != "" {
		switch config.LogLevel {
		case "trace", "debug", "info", "warn", "error":
			return config.LogLevel
		}
		fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using \"info\"\n", config.LogLevel)
		return "info"
	}
	switch {
	case config.Quiet:
		return "warn"
	case config.Verbose:
		return "debug"
	}
	return "info"
}
