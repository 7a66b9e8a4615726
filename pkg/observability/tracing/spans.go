package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope of persistence spans.
const ScopeName = "github.com/nimburion/mqttpersist/persistence"

// Attribute keys set on persistence spans.
const (
	AttrBackend   = attribute.Key("persistence.backend")
	AttrOperation = attribute.Key("persistence.operation")
	AttrPartition = attribute.Key("persistence.partition")
	AttrKey       = attribute.Key("persistence.key")
	AttrSize      = attribute.Key("persistence.value_size_bytes")
	AttrFound     = attribute.Key("persistence.found")
)

// SpanOption configures a persistence span.
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
}

// WithBackend sets the backend name (redis, memory, sql, dynamodb, mongodb).
func WithBackend(backend string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, AttrBackend.String(backend))
	}
}

// WithPartition sets the partition the operation runs against.
func WithPartition(partition string) SpanOption {
	return func(opts *spanOptions) {
		if partition != "" {
			opts.attributes = append(opts.attributes, AttrPartition.String(partition))
		}
	}
}

// WithRecordKey sets the record key.
func WithRecordKey(key string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, AttrKey.String(key))
	}
}

// StartPersistenceSpan starts a client span named "PERSIST {operation}".
func StartPersistenceSpan(ctx context.Context, tracer trace.Tracer, operation string, opts ...SpanOption) (context.Context, trace.Span) {
	spanOpts := &spanOptions{
		attributes: []attribute.KeyValue{AttrOperation.String(operation)},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("PERSIST %s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// End records the outcome of an operation and ends span.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
