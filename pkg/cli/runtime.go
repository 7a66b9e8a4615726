package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/mqttpersist/pkg/config"
	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/observability/tracing"
	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/persistence/factory"
	"github.com/nimburion/mqttpersist/pkg/version"
)

// BackendFactory builds the persistence backend for a command.
type BackendFactory func(cfg config.PersistenceConfig, log logger.Logger, opts factory.Options) (persistence.Persistence, error)

func defaultBackendFactory(cfg config.PersistenceConfig, log logger.Logger, opts factory.Options) (persistence.Persistence, error) {
	return factory.NewWithOptions(cfg, log, opts)
}

const shutdownTimeout = 5 * time.Second

// runtime holds the per-command backend and tracer.
type runtime struct {
	cfg     *config.Config
	secrets *config.Config
	log     logger.Logger
	info    version.Info
	tracer  *tracing.TracerProvider
	backend persistence.Persistence
	// closeBackend replaces backend.Close when another component owns
	// access to the backend, such as a health checker.
	closeBackend func(ctx context.Context) error
}

func (a *app) newRuntime(ctx context.Context) (*runtime, error) {
	cfg, secrets, log, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	info := version.Current(cfg.Service.Name)

	obs := cfg.Observability
	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Backend:        cfg.Persistence.Backend,
		Endpoint:       obs.TracingEndpoint,
		Insecure:       obs.TracingInsecure,
		SampleRate:     obs.TracingSampleRate,
		Enabled:        obs.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	backend, err := a.buildBackend(cfg, log, tp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return &runtime{cfg: cfg, secrets: secrets, log: log, info: info, tracer: tp, backend: backend}, nil
}

func (a *app) buildBackend(cfg *config.Config, log logger.Logger, tp *tracing.TracerProvider) (persistence.Persistence, error) {
	backend, err := a.opts.BackendFactory(cfg.Persistence, log, factory.Options{
		Instrument:        true,
		InstrumentOptions: []persistence.InstrumentOption{persistence.WithTracerProvider(tp.Provider())},
	})
	if err != nil {
		return nil, fmt.Errorf("create persistence backend: %w", err)
	}
	return backend, nil
}

// open scopes the backend to a client partition.
func (r *runtime) open(clientID, serverURI string) error {
	if err := r.backend.Open(clientID, serverURI); err != nil {
		return fmt.Errorf("open persistence for %s: %w", clientID, err)
	}
	return nil
}

// close releases the backend and flushes pending spans.
func (r *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	closeBackend := r.closeBackend
	if closeBackend == nil {
		closeBackend = func(context.Context) error { return r.backend.Close() }
	}
	if err := closeBackend(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close persistence: %w", err))
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		r.log.Warn("runtime shutdown incomplete", "error", err)
		return err
	}
	return nil
}
