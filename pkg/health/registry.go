// Package health aggregates persistence backend health probes.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string            `json:"name" yaml:"name"`
	Status    Status            `json:"status" yaml:"status"`
	Message   string            `json:"message,omitempty" yaml:"message,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration     `json:"duration" yaml:"duration"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Checker is the interface that health check implementations must satisfy
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry holds the checks behind the readiness endpoint and the
// healthcheck command.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	limit    int
	observer Observer
}

// Observer is told the outcome of every check run through Registry.Check.
type Observer func(name string, healthy bool, duration time.Duration)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConcurrency bounds how many checks run at once. Zero or less means no limit.
func WithConcurrency(n int) RegistryOption {
	return func(r *Registry) { r.limit = n }
}

// WithObserver reports each check outcome, e.g. to metrics.ObserveHealthCheck.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{checkers: make(map[string]Checker)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds checker, replacing any checker with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// Unregister removes the named check.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Check runs every registered check concurrently. Any unhealthy check makes
// the aggregate unhealthy. Results are ordered by name.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, checker := range checkers {
		g.Go(func() error {
			res := checker.Check(ctx)
			if res.Name == "" {
				res.Name = checker.Name()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overall := StatusHealthy
	for _, res := range results {
		healthy := res.Status == StatusHealthy
		if !healthy {
			overall = StatusUnhealthy
		}
		if r.observer != nil {
			r.observer(res.Name, healthy, res.Duration)
		}
	}

	return AggregatedResult{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs a specific health check by name
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	checker, exists := r.checkers[name]
	r.mu.RUnlock()

	if !exists {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}

	return checker.Check(ctx), nil
}

// List returns the sorted names of all registered health checks
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregatedResult represents the aggregated result of all health checks
type AggregatedResult struct {
	Status    Status        `json:"status" yaml:"status"`
	Checks    []CheckResult `json:"checks" yaml:"checks"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// IsHealthy returns true if the overall status is healthy
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}
