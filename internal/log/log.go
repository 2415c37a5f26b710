// Package log provides module-scoped structured loggers for reconcore.
//
// The call-site convention (logger.Info(msg, "key", value, ...)) follows
// the one used throughout the teacher codebase this package was adapted
// from; the backing implementation is a shared zap.SugaredLogger.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every reconcore component logs through.
type Logger interface {
	Trace(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Crit(msg string, kv ...interface{})
}

var (
	root     *zap.SugaredLogger
	rootOnce sync.Once
)

// Init configures the process-wide zap core. Called once at startup by
// cmd/reconcore; components created before Init fall back to a sane
// production default the first time they log.
func Init(level string, development bool) {
	rootOnce.Do(func() {
		root = build(level, development)
	})
}

func build(level string, development bool) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// last resort: never let logging setup itself crash the process
		fallback := zap.NewNop()
		return fallback.Sugar()
	}
	return logger.Sugar()
}

func ensureRoot() *zap.SugaredLogger {
	rootOnce.Do(func() {
		root = build("info", os.Getenv("RECONCORE_ENV") == "development")
	})
	return root
}

type moduleLogger struct {
	module string
}

// NewModuleLogger returns a Logger scoped to the given module name. The
// convention mirrors the teacher's `var logger = log.NewModuleLogger(...)`
// package-level declaration.
func NewModuleLogger(module string) Logger {
	return &moduleLogger{module: module}
}

func (m *moduleLogger) with(kv []interface{}) []interface{} {
	return append([]interface{}{"module", m.module}, kv...)
}

func (m *moduleLogger) Trace(msg string, kv ...interface{}) {
	ensureRoot().Debugw(msg, m.with(kv)...)
}

func (m *moduleLogger) Debug(msg string, kv ...interface{}) {
	ensureRoot().Debugw(msg, m.with(kv)...)
}

func (m *moduleLogger) Info(msg string, kv ...interface{}) {
	ensureRoot().Infow(msg, m.with(kv)...)
}

func (m *moduleLogger) Warn(msg string, kv ...interface{}) {
	ensureRoot().Warnw(msg, m.with(kv)...)
}

func (m *moduleLogger) Error(msg string, kv ...interface{}) {
	ensureRoot().Errorw(msg, m.with(kv)...)
}

func (m *moduleLogger) Crit(msg string, kv ...interface{}) {
	ensureRoot().Fatalw(msg, m.with(kv)...)
}
