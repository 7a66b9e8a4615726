// Package factory builds the persistence backend selected by configuration.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/mqttpersist/pkg/config"
	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
	"github.com/nimburion/mqttpersist/pkg/persistence/dynamodb"
	"github.com/nimburion/mqttpersist/pkg/persistence/memory"
	"github.com/nimburion/mqttpersist/pkg/persistence/mongodb"
	"github.com/nimburion/mqttpersist/pkg/persistence/redis"
	"github.com/nimburion/mqttpersist/pkg/persistence/sqlstore"
)

// Options tweaks backend construction.
type Options struct {
	// MemoryStore backs the memory backend. Nil gets a private store.
	MemoryStore *memory.Store
	// Instrument wraps the backend with logging, metrics and tracing.
	Instrument bool
	// InstrumentOptions are passed to persistence.Instrument.
	InstrumentOptions []persistence.InstrumentOption
}

// New selects and builds the persistence backend named by cfg.Backend. An
// empty backend selects redis. No connection is made until Open.
func New(cfg config.PersistenceConfig, log logger.Logger) (persistence.Persistence, error) {
	return NewWithOptions(cfg, log, Options{})
}

// NewWithOptions is New with construction options.
func NewWithOptions(cfg config.PersistenceConfig, log logger.Logger, opts Options) (persistence.Persistence, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = config.BackendRedis
	}

	p, err := build(backend, cfg, log, opts)
	if err != nil {
		return nil, err
	}
	if opts.Instrument {
		instrumentOpts := append([]persistence.InstrumentOption{persistence.WithLogger(log)}, opts.InstrumentOptions...)
		return persistence.Instrument(p, backend, instrumentOpts...), nil
	}
	return p, nil
}

func build(backend string, cfg config.PersistenceConfig, log logger.Logger, opts Options) (persistence.Persistence, error) {
	switch backend {
	case config.BackendRedis:
		a, err := redis.NewAdapter(redis.Config{
			URL:          cfg.Redis.URL,
			Prefix:       cfg.Prefix,
			MaxConns:     cfg.Redis.MaxConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PingTimeout:  cfg.Redis.PingTimeout,
		}, log)
		return checked(backend, a, err)
	case config.BackendMemory:
		return memory.NewAdapter(opts.MemoryStore, log).WithPrefix(cfg.Prefix), nil
	case config.BackendPostgres, config.BackendMySQL:
		a, err := sqlstore.NewAdapter(sqlstore.Config{
			Driver:          backend,
			URL:             cfg.SQL.URL,
			Table:           cfg.SQL.Table,
			Prefix:          cfg.Prefix,
			AutoMigrate:     cfg.SQL.AutoMigrate,
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
			PingTimeout:     cfg.SQL.PingTimeout,
		}, log)
		return checked(backend, a, err)
	case config.BackendDynamoDB:
		a, err := dynamodb.NewAdapter(dynamodb.Config{
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			Table:            cfg.DynamoDB.Table,
			Prefix:           cfg.Prefix,
			OperationTimeout: cfg.DynamoDB.OperationTimeout,
		}, log)
		return checked(backend, a, err)
	case config.BackendMongoDB:
		a, err := mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.MongoDB.URL,
			Database:         cfg.MongoDB.Database,
			Collection:       cfg.MongoDB.Collection,
			Prefix:           cfg.Prefix,
			AutoIndex:        cfg.MongoDB.AutoIndex,
			ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
			OperationTimeout: cfg.MongoDB.OperationTimeout,
		}, log)
		return checked(backend, a, err)
	default:
		return nil, fmt.Errorf("unsupported persistence.backend %q (supported: %s)",
			backend, strings.Join(config.SupportedBackends, ", "))
	}
}

// checked keeps a failed constructor from leaking a typed nil into the interface.
func checked[T persistence.Persistence](backend string, p T, err error) (persistence.Persistence, error) {
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", backend, err)
	}
	return p, nil
}
