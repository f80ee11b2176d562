// Package logger is the structured zap logger shared by the server, the worker and the seeder.
// Request identity stored by the HTTP layer is attached to every line logged through a context.
package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "pharmaledger/internal/core/context"
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

// Config selects level, encoding and the service name stamped on each line.
type Config struct {
	Level       string // debug, info, warn, error; anything else means info
	Development bool   // console encoding with colours
	Service     string
}

// New builds a Logger writing to stderr.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Service != "" {
		zc.InitialFields = map[string]any{"service": cfg.Service}
	}

	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

var defaultLogger = sync.OnceValue(func() *Logger {
	l, err := New(Config{Level: "info", Service: "pharmaledger"})
	if err != nil {
		return NewNop()
	}
	return l
})

// Default is the logger used when a context carries none.
func Default() *Logger {
	return defaultLogger()
}

// ForRequest adds the trace, request and staff IDs stored in ctx, if any.
func (l *Logger) ForRequest(ctx context.Context) *Logger {
	r, ok := appctx.RequestFrom(ctx)
	if !ok {
		return l
	}
	fields := r.LogFields()
	if len(fields) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(fields...)}
}

// WithComponent names the subsystem doing the logging.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.SugaredLogger.With("component", name)}
}

type loggerKey struct{}

// WithLogger makes l the logger for everything running under ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the context logger, or Default, with the request identity attached.
func FromContext(ctx context.Context) *Logger {
	l, ok := ctx.Value(loggerKey{}).(*Logger)
	if !ok {
		l = Default()
	}
	return l.ForRequest(ctx)
}

func logAt(ctx context.Context, level zapcore.Level, msg string, keysAndValues []any) {
	FromContext(ctx).WithOptions(zap.AddCallerSkip(2)).Logw(level, msg, keysAndValues...)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	logAt(ctx, zapcore.DebugLevel, msg, keysAndValues)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	logAt(ctx, zapcore.InfoLevel, msg, keysAndValues)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	logAt(ctx, zapcore.WarnLevel, msg, keysAndValues)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	logAt(ctx, zapcore.ErrorLevel, msg, keysAndValues)
}
