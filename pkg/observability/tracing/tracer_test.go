package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "mqttpersist"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Enabled() {
		t.Fatal("expected provider to report disabled")
	}

	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("disabled provider must not sample spans")
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{ServiceName: "mqttpersist", Enabled: true},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{ServiceName: "mqttpersist", Endpoint: "localhost:4317", SampleRate: -0.1, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate too high",
			config:      TracerConfig{ServiceName: "mqttpersist", Endpoint: "localhost:4317", SampleRate: 1.5, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerProvider_ShutdownAndFlush(t *testing.T) {
	ctx := context.Background()
	provider, err := NewTracerProvider(ctx, TracerConfig{ServiceName: "mqttpersist"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := provider.ForceFlush(flushCtx); err != nil {
		t.Errorf("expected no error on force flush, got: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("expected no error on shutdown, got: %v", err)
	}
}
