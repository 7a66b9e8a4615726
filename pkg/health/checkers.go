package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/resilience"
)

const defaultCheckTimeout = 5 * time.Second

// Probe identity used by PersistenceChecker. The partition it opens is
// cleared before the probe returns.
const (
	ProbeClientID  = "mqttpersist-healthcheck"
	ProbeServerURI = "probe://localhost"
)

// AdapterChecker checks any component with a HealthCheck method.
type AdapterChecker struct {
	name    string
	adapter persistence.HealthChecker
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter persistence.HealthChecker, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return result(c.name, c.adapter.HealthCheck(checkCtx), start, nil)
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// PersistenceChecker probes a closed backend end to end: it opens the probe
// partition, writes, reads back and clears a record, then closes. Backends
// with a HealthCheck method are pinged as well. The whole probe is bounded by
// the checker timeout. Probes are serialized because a backend serves one
// caller at a time; a probe that outlives its timeout holds the backend until
// it returns, so the next check times out too. Callers release the backend
// through Close, never directly.
type PersistenceChecker struct {
	mu      sync.Mutex
	name    string
	backend persistence.Persistence
	timeout time.Duration
	breaker *resilience.Breaker
	closed  bool
}

// ErrCheckerClosed is reported by checks run after Close.
var ErrCheckerClosed = persistence.Error("health checker is closed")

// CheckerOption configures a PersistenceChecker.
type CheckerOption func(*PersistenceChecker)

// WithBreaker skips probing while b is open so a failing backend is not
// hit on every readiness request.
func WithBreaker(b *resilience.Breaker) CheckerOption {
	return func(c *PersistenceChecker) { c.breaker = b }
}

// NewPersistenceChecker returns a checker that probes backend. The backend
// must not be shared with anything else.
func NewPersistenceChecker(name string, backend persistence.Persistence, timeout time.Duration, opts ...CheckerOption) *PersistenceChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	c := &PersistenceChecker{name: name, backend: backend, timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check
func (c *PersistenceChecker) Name() string {
	return c.name
}

// Close waits for an in-flight check and then closes the backend. When ctx
// ends first, Close returns its error and the backend is still closed as soon
// as the check returns. Later checks report ErrCheckerClosed.
func (c *PersistenceChecker) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		done <- c.backend.Close()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close %s checker: check still running: %w", c.name, ctx.Err())
	}
}

// Check runs the probe.
func (c *PersistenceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	var (
		mu        sync.Mutex
		partition = persistence.PartitionName("", ProbeClientID, ProbeServerURI)
	)

	run := func() error {
		return resilience.Run(ctx, c.timeout, func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return ErrCheckerClosed
			}
			opened, err := c.probe(ctx)
			if opened != "" {
				mu.Lock()
				partition = opened
				mu.Unlock()
			}
			return err
		})
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(run)
	} else {
		err = run()
	}

	mu.Lock()
	metadata := map[string]string{"partition": partition}
	mu.Unlock()
	if c.breaker != nil {
		metadata["breaker"] = c.breaker.State().String()
	}
	return result(c.name, err, start, metadata)
}

// probe returns the partition it opened, if the backend reports one.
func (c *PersistenceChecker) probe(ctx context.Context) (partition string, err error) {
	if err := c.backend.Open(ProbeClientID, ProbeServerURI); err != nil {
		return "", err
	}
	defer func() {
		_ = c.backend.Clear()
		_ = c.backend.Close()
	}()
	if p, ok := c.backend.(persistence.Partitioned); ok {
		partition = p.Partition()
	}

	if h, ok := c.backend.(persistence.HealthChecker); ok {
		if err := h.HealthCheck(ctx); err != nil {
			return partition, err
		}
	}

	key := fmt.Sprintf("probe-%d", time.Now().UnixNano())
	want := []byte(key)
	if err := c.backend.Put(key, want); err != nil {
		return partition, err
	}
	got, err := c.backend.Get(key)
	if err != nil {
		return partition, err
	}
	if string(got) != string(want) {
		return partition, persistence.Error("probe record read back differently")
	}
	return partition, c.backend.Remove(key)
}

func result(name string, err error, start time.Time, metadata map[string]string) CheckResult {
	res := CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata:  metadata,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = ""
		res.Error = err.Error()
	}
	return res
}
