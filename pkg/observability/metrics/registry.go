// Package metrics provides Prometheus metrics for persistence operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry exposes the persistence and health check collectors, plus the Go
// runtime and process collectors unless disabled.
type Registry struct {
	registry *prometheus.Registry
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	runtime bool
}

// WithoutRuntimeCollectors leaves out the Go runtime and process collectors.
func WithoutRuntimeCollectors() RegistryOption {
	return func(o *registryOptions) { o.runtime = false }
}

// NewRegistry creates a registry carrying the mqttpersist collectors.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{runtime: true}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		persistenceOperationsTotal,
		persistenceOperationDuration,
		persistenceOpenPartitions,
		healthCheckUp,
		healthCheckDuration,
	)
	if o.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Registry{registry: reg}
}

// Register registers a custom Prometheus collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
//
//	http.Handle("/metrics", registry.Handler())
// Scrapes are counted in promhttp_metric_handler_requests_total on the same registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(r.registry, promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	}))
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
