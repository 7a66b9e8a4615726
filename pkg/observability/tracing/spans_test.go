package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartPersistenceSpan(t *testing.T) {
	recorder, provider := newRecorder()
	tracer := provider.Tracer(ScopeName)

	_, span := StartPersistenceSpan(context.Background(), tracer, "put",
		WithBackend("redis"),
		WithPartition("dev1:tcp://host:1883"),
		WithRecordKey("m1"),
	)
	End(span, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "PERSIST put" {
		t.Errorf("unexpected span name %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindClient {
		t.Errorf("expected client span, got %v", got.SpanKind())
	}
	if got.Status().Code != codes.Ok {
		t.Errorf("expected ok status, got %v", got.Status())
	}

	want := map[attribute.Key]string{
		AttrOperation: "put",
		AttrBackend:   "redis",
		AttrPartition: "dev1:tcp://host:1883",
		AttrKey:       "m1",
	}
	for key, value := range want {
		v, ok := attrValue(got.Attributes(), key)
		if !ok || v.AsString() != value {
			t.Errorf("attribute %s = %q (present=%v), want %q", key, v.AsString(), ok, value)
		}
	}
}

func TestWithPartition_SkipsEmpty(t *testing.T) {
	recorder, provider := newRecorder()
	_, span := StartPersistenceSpan(context.Background(), provider.Tracer(ScopeName), "close", WithPartition(""))
	span.End()

	if _, ok := attrValue(recorder.Ended()[0].Attributes(), AttrPartition); ok {
		t.Fatal("empty partition must not be recorded")
	}
}

func TestEnd_RecordsError(t *testing.T) {
	recorder, provider := newRecorder()
	_, span := StartPersistenceSpan(context.Background(), provider.Tracer(ScopeName), "get")
	End(span, errors.New("key not found"))

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "key not found" {
		t.Fatalf("unexpected status %+v", got.Status())
	}
	if len(got.Events()) != 1 || got.Events()[0].Name != "exception" {
		t.Fatalf("expected an exception event, got %+v", got.Events())
	}
}
