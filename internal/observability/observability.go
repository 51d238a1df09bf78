// Package observability defines the logging, metrics and tracing hooks used
// by the request pipeline, plus their expvar, JSON and Prometheus exporters.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Logger is the structured logger used across the module. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder receives one observation per completed operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// InFlightRecorder is implemented by recorders that track concurrent
// requests.
type InFlightRecorder interface {
	InFlight(delta int)
}

// PartialFailureRecorder is implemented by recorders that count targets
// failing inside an otherwise successful response.
type PartialFailureRecorder interface {
	PartialFailures(operation string, n int)
}

// Tracer starts spans around operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation outcome.
type TraceSpan interface {
	End(err error)
}

// DefaultLogger returns slog's default logger.
func DefaultLogger() Logger { return slog.Default() }

// NewLogger returns a text slog logger at the named level (debug, info, warn
// or error; anything else is info).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// NoopMetrics discards observations.
type NoopMetrics struct{}

// Observe implements MetricsRecorder.
func (NoopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NoopTracer starts spans that do nothing.
type NoopTracer struct{}

// Start implements Tracer.
func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

var (
	_ Logger          = NoopLogger{}
	_ Logger          = (*slog.Logger)(nil)
	_ MetricsRecorder = NoopMetrics{}
	_ Tracer          = NoopTracer{}
)

// OperationName joins a verb and an entity key the way every recorder
// expects them: "fetch_application".
func OperationName(verb, entity string) string {
	if entity == "" {
		return verb
	}
	return verb + "_" + entity
}

// SplitOperation is the inverse of OperationName.
func SplitOperation(op string) (verb, entity string) {
	verb, entity, _ = strings.Cut(op, "_")
	return verb, entity
}
