package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 结构化日志封装（zap）
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger builds a production zap logger at the given level.
// Unknown levels fall back to info.
func NewLogger(level string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return &Logger{s: l.Sugar()}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *Logger {
	return &Logger{s: l.Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug 调试日志
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.s.Debugw(msg, kv...)
}

// Info 信息日志
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.s.Infow(msg, kv...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.s.Warnw(msg, kv...)
}

// Error 错误日志
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.s.Errorw(msg, kv...)
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.s.Sync()
}
