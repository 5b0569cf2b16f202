package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Debug switches to the
// development encoder with debug level enabled.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	return cfg.Build()
}
