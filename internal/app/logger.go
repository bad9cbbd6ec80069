package app

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hailing/internal/config"
)

// NewLogger builds the process logger and installs it as zap's global one.
// The returned func flushes buffered entries.
func NewLogger(cfg config.LogConfig) (*zap.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	restore := zap.ReplaceGlobals(logger)

	cleanup := func() {
		_ = logger.Sync()
		restore()
	}
	return logger, cleanup, nil
}
