package logger

import (
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New builds the application zap logger for the given level string.
// Unknown levels fall back to info.
func New(levelStr string) (*zap.Logger, error) {
	level := parseLevel(levelStr)

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewSlogBridge wraps the zap logger for stdlib slog consumers and installs it
// as the slog default.
func NewSlogBridge(zapLogger *zap.Logger) *slog.Logger {
	handler := zapslog.NewHandler(zapLogger.Core())
	bridged := slog.New(handler)
	slog.SetDefault(bridged)
	return bridged
}

func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
