package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/warnlevel-sync/internal/config"
)

// Configure sets up the global zerolog logger. Dev mode writes human readable
// console output at trace level; otherwise JSON lines at the configured level.
func Configure(cfg *config.AppConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writer io.Writer = os.Stdout
	if cfg.DevMode {
		level = zerolog.TraceLevel
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
		}
	}

	log.Logger = zerolog.New(writer).
		With().
		Timestamp().
		Str("service", "warnlevel-sync").
		Logger().
		Level(level)

	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level; using info")
	}
}
