package common

import (
	"fmt"

	"github.com/samber/do/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerService owns the root logger. Its level is fixed at construction.
type LoggerService struct {
	*zap.Logger
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func NewLoggerService(i do.Injector) (*LoggerService, error) {
	level := do.MustInvokeNamed[string](i, "log-level")

	logger, err := NewLogger(level)
	if err != nil {
		return nil, err
	}

	return &LoggerService{
		Logger: logger,
	}, nil
}

func (s *LoggerService) Shutdown() error {
	// stderr sync fails on some platforms; nothing to do about it
	_ = s.Sync()

	return nil
}
