package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	z *zap.Logger
}

// NewProduction creates a production ZapLogger. Call Sync on shutdown via
// the returned closer.
func NewProduction() (*ZapLogger, func(), error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("creating zap logger: %w", err)
	}
	return &ZapLogger{z: z}, func() { _ = z.Sync() }, nil
}

// NewZapLogger wraps an existing *zap.Logger.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }

func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{z: l.z.With(toZapFields(fields)...)}
}
