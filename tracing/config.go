// Package tracing wires OpenTelemetry into the cache: spans around manager
// operations and a server interceptor for the inspection service. Tracing is
// optional; a nil *Config leaves every call untraced.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "github.com/Keksclan/tiercache"

// Config holds the OpenTelemetry plumbing.
type Config struct {
	// TracerProvider supplies the Tracer. When nil the global provider is
	// used.
	TracerProvider trace.TracerProvider

	// Propagators extracts trace context from incoming metadata. When nil
	// the global propagator is used.
	Propagators propagation.TextMapPropagator
}

// Tracer returns the tracer spans are started from. A nil Config yields a
// no-op tracer.
func (c *Config) Tracer() trace.Tracer {
	if c == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentation)
}

func (c *Config) propagators() propagation.TextMapPropagator {
	if c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}
