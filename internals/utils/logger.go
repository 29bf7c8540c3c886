package utils

import (
	"go.uber.org/zap"
)

var logger *zap.Logger

// InitLogger configures the process-wide logger from LOG_LEVEL and
// LOG_FORMAT. Format "json" uses the production encoder; anything else
// gets the console development encoder. Unknown levels fall back to info.
func InitLogger(level, format string) error {
	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
	}

	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		parsed = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = parsed

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = built
	return nil
}

// GetLogger returns the configured logger, or a production default when
// InitLogger has not run.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
