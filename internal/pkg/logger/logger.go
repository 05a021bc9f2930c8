// Package logger holds the process-wide zap logger.
//
// The level is an AtomicLevel so it can be changed at runtime through
// HTTPHandler. "json" is the production format; "console" is for local runs.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
	mu          sync.RWMutex
)

type ctxKey struct{}

// Init builds the global logger. Only the first call has an effect.
// Extra fields are attached to every entry (service name, instance id).
func Init(level, format string, fields ...zap.Field) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		cfg := zap.NewProductionConfig()
		if format == "console" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.Level = atomicLevel
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		built, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(fields...))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		mu.Lock()
		global = built
		mu.Unlock()
	})
	return initErr
}

// Replace swaps the global logger and returns a restore func.
// Tests use it with zaptest/observer to assert on emitted entries.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := global
	global = l
	mu.Unlock()
	return func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}
}

// SetLevel changes the level of the running logger.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger. It panics when Init was never called.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		panic("logger.Init() must be called before logger.L()")
	}
	return l
}

// S returns the sugared form of L.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// With returns a child of the global logger.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// NewContext stores a request scoped logger in ctx.
func NewContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by NewContext, or L().
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// HTTPHandler exposes the atomic level for GET/PUT at /log/level.
func HTTPHandler() *zap.AtomicLevel {
	return &atomicLevel
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
