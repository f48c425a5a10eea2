package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LoggerKindConsole = "console"
	LoggerKindJSON    = "json"
)

type LoggerConfig struct {
	Level  zerolog.Level
	Kind   string
	Caller bool
}

func ConfigureLogger(cfg LoggerConfig) {
	logger := log.Logger
	if cfg.Kind == LoggerKindConsole {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger = logger.With().Timestamp().Logger()
	if cfg.Caller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger

	zerolog.SetGlobalLevel(cfg.Level)
	zerolog.DefaultContextLogger = &log.Logger

	log.Info().
		Str("kind", cfg.Kind).
		Str("level", cfg.Level.String()).
		Msg("logger initialized")
}

func setLoggerDefaults() {
	viper.SetDefault("logger.kind", LoggerKindJSON)
	viper.SetDefault("logger.level", zerolog.InfoLevel.String())
	viper.SetDefault("logger.caller", false)
}

func newLoggerConfig() (*LoggerConfig, error) {
	logKind := viper.GetString("logger.kind")
	switch logKind {
	case LoggerKindConsole, LoggerKindJSON:
	default:
		return nil, fmt.Errorf("log_kind=%s: %w", logKind, ErrInvalidConfigValue)
	}

	logLevelStr := viper.GetString("logger.level")
	if logLevelStr == "" {
		logLevelStr = zerolog.InfoLevel.String()
	}

	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		return nil, fmt.Errorf("log_level=%s: %w", logLevelStr, ErrInvalidConfigValue)
	}

	return &LoggerConfig{
		Kind:   logKind,
		Level:  logLevel,
		Caller: viper.GetBool("logger.caller"),
	}, nil
}
