package tracing

import (
	"context"

	"github.com/Keksclan/tiercache/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on cache spans.
const (
	AttrOp      = attribute.Key("cache.operation")
	AttrKey     = attribute.Key("cache.key")
	AttrTier    = attribute.Key("cache.tier")
	AttrBackend = attribute.Key("cache.backend")
	AttrHit     = attribute.Key("cache.hit")
	AttrSize    = attribute.Key("cache.size")
)

// StartOp starts an internal span named "tiercache.<op>".
func (c *Config) StartOp(ctx context.Context, op, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrOp.String(op)}
	if key != "" {
		attrs = append(attrs, AttrKey.String(key))
	}
	return c.Tracer().Start(ctx, "tiercache."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// Served annotates span with the adapter that answered.
func Served(span trace.Span, a storage.Adapter) {
	span.SetAttributes(AttrTier.String(a.Tier().String()), AttrBackend.String(a.Type()))
}

// End records err on span and ends it. Errors carrying a storage code also
// set a "cache.error_code" attribute.
func End(span trace.Span, err error) {
	if err != nil {
		if code := storage.CodeOf(err); code != 0 {
			span.SetAttributes(attribute.String("cache.error_code", code.String()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
