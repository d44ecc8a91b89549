package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger wraps a *zap.Logger as a Logger. Unlike ClueLogger, it carries
// no dependency on a request-scoped context value — cmd/agentrund's
// bootstrap (listener setup, store dial, signal handling) runs before any
// clue.Context exists, and it uses this plain process-level logger for
// that phase and for the rest of the process as well.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps the given *zap.Logger as a Logger.
func NewZapLogger(logger *zap.Logger) Logger {
	return ZapLogger{logger: logger}
}

// Debug emits a debug-level log message with structured key-value pairs.
func (z ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.logger.Sugar().Debugw(msg, keyvals...)
}

// Info emits an info-level log message with structured key-value pairs.
func (z ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.logger.Sugar().Infow(msg, keyvals...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (z ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.logger.Sugar().Warnw(msg, keyvals...)
}

// Error emits an error-level log message with structured key-value pairs.
func (z ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.logger.Sugar().Errorw(msg, keyvals...)
}
