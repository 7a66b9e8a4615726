package persistence

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/observability/metrics"
	"github.com/nimburion/mqttpersist/pkg/observability/tracing"
)

// Operation names used in logs, metrics and spans.
const (
	OpOpen     = "open"
	OpClose    = "close"
	OpPut      = "put"
	OpGet      = "get"
	OpRemove   = "remove"
	OpKeys     = "keys"
	OpClear    = "clear"
	OpContains = "contains_key"
)

// Partitioned is implemented by backends that expose their current partition.
type Partitioned interface {
	Partition() string
}

// HealthChecker is implemented by backends that can probe their store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// InstrumentOption configures Instrument.
type InstrumentOption func(*Instrumented)

// WithLogger logs every call at debug level.
func WithLogger(log logger.Logger) InstrumentOption {
	return func(i *Instrumented) { i.logger = logger.OrNop(log) }
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) InstrumentOption {
	return func(i *Instrumented) {
		if tp != nil {
			i.tracer = tp.Tracer(tracing.ScopeName)
		}
	}
}

// Instrumented decorates a Persistence with logging, metrics and tracing.
// It returns exactly what the wrapped backend returns.
type Instrumented struct {
	next    Persistence
	backend string
	logger  logger.Logger
	tracer  trace.Tracer
	open    bool
}

var _ Persistence = (*Instrumented)(nil)

// Instrument wraps next, labelling its telemetry with backend.
func Instrument(next Persistence, backend string, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		next:    next,
		backend: backend,
		logger:  logger.NewNop(),
		tracer:  otel.GetTracerProvider().Tracer(tracing.ScopeName),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("backend", backend)
	return i
}

// Unwrap returns the decorated backend.
func (i *Instrumented) Unwrap() Persistence { return i.next }

// Partition returns the wrapped backend's partition when it exposes one.
func (i *Instrumented) Partition() string {
	if p, ok := i.next.(Partitioned); ok {
		return p.Partition()
	}
	return ""
}

// HealthCheck delegates to the wrapped backend when it supports health checks.
func (i *Instrumented) HealthCheck(ctx context.Context) error {
	if h, ok := i.next.(HealthChecker); ok {
		return h.HealthCheck(ctx)
	}
	return nil
}

func (i *Instrumented) start(operation, key string) (trace.Span, time.Time) {
	opts := []tracing.SpanOption{tracing.WithBackend(i.backend), tracing.WithPartition(i.Partition())}
	if key != "" {
		opts = append(opts, tracing.WithRecordKey(key))
	}
	_, span := tracing.StartPersistenceSpan(context.Background(), i.tracer, operation, opts...)
	return span, time.Now()
}

func (i *Instrumented) finish(span trace.Span, started time.Time, operation, key string, err error) {
	elapsed := time.Since(started)
	metrics.RecordOperation(i.backend, operation, err, elapsed)
	tracing.End(span, err)

	args := []any{"operation", operation, "partition", i.Partition(), "duration", elapsed}
	if key != "" {
		args = append(args, "key", key)
	}
	if err != nil {
		args = append(args, "error", err)
	}
	i.logger.Debug("persistence call", args...)
}

func (i *Instrumented) trackOpen(nowOpen bool) {
	switch {
	case nowOpen && !i.open:
		metrics.PartitionOpened(i.backend)
	case !nowOpen && i.open:
		metrics.PartitionClosed(i.backend)
	}
	i.open = nowOpen
}

func (i *Instrumented) Open(clientID, serverURI string) error {
	span, started := i.start(OpOpen, "")
	err := i.next.Open(clientID, serverURI)
	i.trackOpen(err == nil)
	i.finish(span, started, OpOpen, "", err)
	return err
}

func (i *Instrumented) Close() error {
	span, started := i.start(OpClose, "")
	err := i.next.Close()
	i.trackOpen(false)
	i.finish(span, started, OpClose, "", err)
	return err
}

func (i *Instrumented) Put(key string, buffers ...[]byte) error {
	span, started := i.start(OpPut, key)
	size := 0
	for _, b := range buffers {
		size += len(b)
	}
	span.SetAttributes(tracing.AttrSize.Int(size))
	err := i.next.Put(key, buffers...)
	i.finish(span, started, OpPut, key, err)
	return err
}

func (i *Instrumented) Get(key string) ([]byte, error) {
	span, started := i.start(OpGet, key)
	value, err := i.next.Get(key)
	if err == nil {
		span.SetAttributes(tracing.AttrSize.Int(len(value)))
	}
	i.finish(span, started, OpGet, key, err)
	return value, err
}

func (i *Instrumented) Remove(key string) error {
	span, started := i.start(OpRemove, key)
	err := i.next.Remove(key)
	i.finish(span, started, OpRemove, key, err)
	return err
}

func (i *Instrumented) Keys() ([]string, error) {
	span, started := i.start(OpKeys, "")
	keys, err := i.next.Keys()
	i.finish(span, started, OpKeys, "", err)
	return keys, err
}

func (i *Instrumented) Clear() error {
	span, started := i.start(OpClear, "")
	err := i.next.Clear()
	i.finish(span, started, OpClear, "", err)
	return err
}

func (i *Instrumented) ContainsKey(key string) bool {
	span, started := i.start(OpContains, key)
	found := i.next.ContainsKey(key)
	span.SetAttributes(tracing.AttrFound.Bool(found))
	i.finish(span, started, OpContains, key, nil)
	return found
}
