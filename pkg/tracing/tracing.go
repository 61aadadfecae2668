// Package tracing implements transport.Tracer with OpenTelemetry spans,
// grounded on the teacher's middleware.OpenTelemetry event-tracing
// middleware (span-per-unit-of-work, RecordError/SetStatus on completion).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "duplexwire"

// Config configures the tracer, mirroring the teacher's OTelConfig.
type Config struct {
	TracerName string
	Ctx        context.Context // base context spans are started from; default context.Background()
}

// Option configures a Config.
type Option func(*Config)

func WithTracerName(name string) Option     { return func(c *Config) { c.TracerName = name } }
func WithBaseContext(ctx context.Context) Option { return func(c *Config) { c.Ctx = ctx } }

func defaultConfig() Config {
	return Config{TracerName: defaultTracerName, Ctx: context.Background()}
}

// Tracer implements transport.Tracer over the global OpenTelemetry tracer
// provider, resolved at New time just as the teacher resolves its tracer
// from otel.Tracer(config.TracerName).
type Tracer struct {
	tracer trace.Tracer
	ctx    context.Context
}

// New resolves a Tracer from the global OpenTelemetry provider. Configure
// the provider via otel.SetTracerProvider before constructing one.
func New(opts ...Option) *Tracer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Tracer{tracer: otel.Tracer(cfg.TracerName), ctx: cfg.Ctx}
}

// StartInvoke opens a span for one Invoke round trip and returns the
// closer the transport calls once the call settles.
func (t *Tracer) StartInvoke(procedure string, callID float64) func(err error) {
	_, span := t.tracer.Start(
		t.ctx,
		fmt.Sprintf("duplexwire.invoke %s", procedure),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("duplexwire.procedure", procedure),
			attribute.Float64("duplexwire.call_id", callID),
		),
	)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
