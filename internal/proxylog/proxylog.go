// Package proxylog wraps go.uber.org/zap behind the small leveled-logger
// seam the corpus favors over bare fmt.Printf/log.Printf call sites --
// grounded on _examples/Azure-azure-storage-azcopy/common/logger.go's
// ILogger shape, re-expressed with a real structured backend rather than
// a hand-rolled *log.Logger, and on the go.uber.org/zap dependency
// carried by _examples/broady-durable-streams/packages/caddy-plugin.
package proxylog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the seam every component logs through. It is a thin wrapper
// so call sites pass structured fields instead of formatting strings by
// hand.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to "info"). Output is a single
// human-readable console line per entry, matching the teacher's
// log.Printf texture but with leveled, structured fields.
func New(level string) *Logger {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return &Logger{z: zap.New(core)}
}

// Nop returns a Logger that discards everything; used by tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// With returns a Logger with the given structured fields attached to
// every subsequent entry -- used to carry a per-connection correlation id
// (see internal/acceptor) through a request's whole lifetime.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries; callers should defer it from main.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
