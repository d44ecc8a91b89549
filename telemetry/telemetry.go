// Package telemetry defines the logging, metrics, and tracing interfaces used
// throughout the runtime. Engine and agent code depend only on these small
// interfaces; concrete implementations (Clue-backed, OTEL-backed, no-op) live
// in this package so callers can swap observability backends without
// touching runtime logic.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used across invocation boundaries, model
// steps, and tool calls. Implementations typically delegate to Clue, but the
// interface stays small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime
// instrumentation (tool retries, yields, resumes, model latency).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Bundle groups the three observability interfaces so runtime constructors
// take one argument instead of three. A zero-value Bundle is invalid; use
// NewNoopBundle for tests; for production wiring, assemble one from
// NewZapLogger or NewClueLogger, NewOTelMetrics and NewOTelTracer.
type Bundle struct {
	Log     Logger
	Metrics Metrics
	Tracer  Tracer
}

// NewNoopBundle returns a Bundle whose components discard everything. Useful
// for unit tests that don't assert on observability side effects.
func NewNoopBundle() Bundle {
	return Bundle{Log: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}
