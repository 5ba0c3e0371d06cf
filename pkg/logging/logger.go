// Package logging provides structured logging for fieldsync using zerolog.
// Terminals get the human-readable console writer, everything else gets JSON
// lines suitable for log shipping.
//
// Example usage:
//
//	log := logging.Default()
//	log.Info().Str("tab_mapping_id", id).Msg("Sync started")
//
//	ctx := logging.WithTabMapping(ctx, id)
//	logging.FromContext(ctx).Warn().Int("row", 12).Msg("Transform failed")
package logging

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// defaultLogger is built from the environment at startup.
var defaultLogger = NewLoggerFromConfig(envConfig())

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// envConfig reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and friends.
// DEBUG=1 is honored when LOG_LEVEL is unset.
func envConfig() *Config {
	level := os.Getenv("LOG_LEVEL")
	if level == "" && os.Getenv("DEBUG") != "" {
		level = "debug"
	}
	return &Config{
		Level:      getEnvOrDefault("LOG_LEVEL", level),
		Format:     getEnvOrDefault("LOG_FORMAT", "auto"),
		Output:     getEnvOrDefault("LOG_OUTPUT", "stderr"),
		TimeFormat: getEnvOrDefault("LOG_TIME_FORMAT", "kitchen"),
		NoColor:    os.Getenv("NO_COLOR") != "",
		AddCaller:  os.Getenv("LOG_CALLER") == "true",
		Fields:     parseFields(os.Getenv("LOG_FIELDS")),
	}
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
