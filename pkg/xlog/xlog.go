// Package xlog is a thin, context-carrying wrapper around go.uber.org/zap.
//
// Every recording-core component takes a Logger rather than reaching for
// log.Printf: a bound logger that accepts a context on every call (for
// future request-scoped fields) plus With/WithName for attaching static
// fields.
package xlog

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured logging field. Aliased directly to zap's type so
// call sites can use zap.String, zap.Int, zap.Error, etc.
type Field = zap.Field

type Logger interface {
	With(fields ...Field) Logger
	WithName(name string) Logger

	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Fatal(ctx context.Context, msg string, fields ...Field)

	// Raw exposes the underlying *zap.Logger for callers (e.g. third-party
	// libraries) that want a concrete zap logger instead of this interface.
	Raw() *zap.Logger
}

type logger struct {
	z *zap.Logger
}

var _ Logger = (*logger)(nil)

func New(z *zap.Logger) Logger {
	return &logger{z: z}
}

// NewProduction builds a Logger writing console-encoded (tab-separated)
// lines to stdout at the given level, with a production encoder config
// and RFC3339 nano timestamps.
func NewProduction(level zapcore.Level) (Logger, func(), error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	z := zap.New(core, zap.AddCaller())
	return New(z), func() { _ = z.Sync() }, nil
}

func NewNop() Logger {
	return New(zap.NewNop())
}

func (l *logger) Raw() *zap.Logger { return l.z }

func (l *logger) With(fields ...Field) Logger {
	return &logger{z: l.z.With(fields...)}
}

func (l *logger) WithName(name string) Logger {
	return &logger{z: l.z.Named(name)}
}

func (l *logger) Trace(_ context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, append(fields, zap.Bool("trace", true))...)
}

func (l *logger) Debug(_ context.Context, msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *logger) Info(_ context.Context, msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *logger) Warn(_ context.Context, msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *logger) Error(_ context.Context, msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *logger) Fatal(_ context.Context, msg string, fields ...Field) { l.z.Fatal(msg, fields...) }
