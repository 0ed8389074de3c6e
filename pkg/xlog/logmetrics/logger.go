// Package logmetrics decorates an xlog.Logger with a per-level message
// counter, built directly on prometheus client_golang.
package logmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flightcore/recorder/pkg/xlog"
)

var levelNames = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// NewMeteredLogger wraps l so that every Trace/Debug/.../Fatal call also
// increments a counter labeled by level, registered against reg. Only
// messages logged through the returned Logger are counted; log records
// written into the recording by the controller's RecordLog do not pass
// through it.
func NewMeteredLogger(l xlog.Logger, reg prometheus.Registerer) xlog.Logger {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightrec",
		Subsystem: "log",
		Name:      "messages_total",
		Help:      "Number of log messages emitted, by level.",
	}, []string{"level"})
	reg.MustRegister(vec)

	counts := make(map[string]prometheus.Counter, len(levelNames))
	for _, name := range levelNames {
		counts[name] = vec.WithLabelValues(name)
	}

	return &logger{l: l, counts: counts}
}

type logger struct {
	l      xlog.Logger
	counts map[string]prometheus.Counter
}

var _ xlog.Logger = (*logger)(nil)

func (m *logger) With(fields ...xlog.Field) xlog.Logger {
	return &logger{l: m.l.With(fields...), counts: m.counts}
}

func (m *logger) WithName(name string) xlog.Logger {
	return &logger{l: m.l.WithName(name), counts: m.counts}
}

func (m *logger) Raw() *zap.Logger { return m.l.Raw() }

func (m *logger) Trace(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["trace"].Inc()
	m.l.Trace(ctx, msg, fields...)
}

func (m *logger) Debug(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["debug"].Inc()
	m.l.Debug(ctx, msg, fields...)
}

func (m *logger) Info(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["info"].Inc()
	m.l.Info(ctx, msg, fields...)
}

func (m *logger) Warn(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["warn"].Inc()
	m.l.Warn(ctx, msg, fields...)
}

func (m *logger) Error(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["error"].Inc()
	m.l.Error(ctx, msg, fields...)
}

func (m *logger) Fatal(ctx context.Context, msg string, fields ...xlog.Field) {
	m.counts["fatal"].Inc()
	m.l.Fatal(ctx, msg, fields...)
}
