package logger

import (
	"fmt"

	"github.com/meinhoongagan/service-marketplace/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
