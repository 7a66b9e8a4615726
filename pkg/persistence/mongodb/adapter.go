// Package mongodb persists MQTT client records in a MongoDB collection.
//
// Every record is one document keyed by {partition, key}; a secondary index
// on partition serves Keys and Clear. Clear is a single DeleteMany.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "mongodb"

// Adapter implements persistence.Persistence over a MongoDB collection.
type Adapter struct {
	connect Connector
	config  Config
	logger  logger.Logger
	conn    *session
}

type session struct {
	coll      Collection
	partition string
}

var _ persistence.Persistence = (*Adapter)(nil)

// NewAdapter validates cfg and returns a closed adapter using the MongoDB driver.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	connect, err := NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapterWithConnector(cfg, connect, log)
}

// NewAdapterWithConnector is NewAdapter with a custom connector.
func NewAdapterWithConnector(cfg Config, connect Connector, log logger.Logger) (*Adapter, error) {
	if connect == nil {
		return nil, errors.New("mongodb connector is required")
	}
	cfg.normalize()
	return &Adapter{
		connect: connect,
		config:  cfg,
		logger:  logger.OrNop(log).With("backend", BackendName, "collection", cfg.Collection),
	}, nil
}

// Open connects, pings the primary and scopes the adapter to the partition of
// clientID and serverURI.
func (a *Adapter) Open(clientID, serverURI string) error {
	a.release()

	partition := persistence.PartitionName(a.config.Prefix, clientID, serverURI)
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ConnectTimeout)
	defer cancel()

	coll, err := a.connect(ctx)
	if err != nil {
		a.logger.Error("failed to open mongodb persistence", "partition", partition, "error", err)
		return persistence.Wrap(fmt.Sprintf("open partition %q", partition), err)
	}
	if coll == nil {
		return persistence.Error(fmt.Sprintf("open partition %q: connector returned no collection", partition))
	}
	if err := coll.Ping(ctx); err != nil {
		a.disconnect(coll, partition)
		return persistence.Wrap(fmt.Sprintf("open partition %q: ping", partition), err)
	}

	a.conn = &session{coll: coll, partition: partition}
	a.logger.Info("mongodb persistence opened", "partition", partition)
	return nil
}

// Close disconnects. Disconnect errors are logged, never returned.
func (a *Adapter) Close() error {
	a.release()
	return nil
}

func (a *Adapter) release() {
	conn := a.conn
	if conn == nil {
		return
	}
	a.conn = nil
	a.disconnect(conn.coll, conn.partition)
	a.logger.Info("mongodb persistence closed", "partition", conn.partition)
}

func (a *Adapter) disconnect(coll Collection, partition string) {
	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if err := coll.Disconnect(ctx); err != nil {
		a.logger.Warn("mongodb disconnect failed", "partition", partition, "error", err)
	}
}

func (a *Adapter) live() (*session, error) {
	if a.conn == nil {
		return nil, persistence.ErrNotOpen
	}
	return a.conn, nil
}

// IsOpen reports whether the adapter holds a connection.
func (a *Adapter) IsOpen() bool { return a.conn != nil }

// Partition returns the partition name, or "" when closed.
func (a *Adapter) Partition() string {
	if a.conn == nil {
		return ""
	}
	return a.conn.partition
}

func (a *Adapter) withOperationTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.config.OperationTimeout)
}

// Put upserts the concatenated buffers under key.
func (a *Adapter) Put(key string, buffers ...[]byte) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence put", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if err := conn.coll.Upsert(ctx, conn.partition, key, persistence.Concat(buffers...)); err != nil {
		return persistence.Wrap(fmt.Sprintf("put key %q", key), err)
	}
	return nil
}

// Get returns the value of key.
func (a *Adapter) Get(key string) ([]byte, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence get", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	value, err := conn.coll.Find(ctx, conn.partition, key)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, persistence.Error(fmt.Sprintf("key %q not found", key))
	}
	if err != nil {
		return nil, persistence.Wrap(fmt.Sprintf("get key %q", key), err)
	}
	if value == nil {
		return []byte{}, nil
	}
	return value, nil
}

// Remove deletes key. Deleting nothing is not an error.
func (a *Adapter) Remove(key string) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence remove", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if err := conn.coll.Delete(ctx, conn.partition, key); err != nil {
		return persistence.Wrap(fmt.Sprintf("remove key %q", key), err)
	}
	return nil
}

// Keys returns the keys of every document in the partition.
func (a *Adapter) Keys() ([]string, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence keys", "partition", conn.partition)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	keys, err := conn.coll.Keys(ctx, conn.partition)
	if err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Clear deletes every document of the partition in one DeleteMany.
func (a *Adapter) Clear() error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence clear", "partition", conn.partition)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if err := conn.coll.DeleteAll(ctx, conn.partition); err != nil {
		return persistence.Wrap(fmt.Sprintf("clear partition %q", conn.partition), err)
	}
	return nil
}

// ContainsKey reports whether a document exists for key. Failures read as false.
func (a *Adapter) ContainsKey(key string) bool {
	conn, err := a.live()
	if err != nil {
		return false
	}
	a.logger.Debug("persistence contains key", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	ok, err := conn.coll.Exists(ctx, conn.partition, key)
	if err != nil {
		a.logger.Warn("contains key failed, reporting absent", "partition", conn.partition, "key", key, "error", err)
		return false
	}
	return ok
}

// HealthCheck pings the primary through the live connection.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	if err := conn.coll.Ping(ctx); err != nil {
		return persistence.Wrap("mongodb health check failed", err)
	}
	return nil
}
