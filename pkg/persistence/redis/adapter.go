// Package redis stores MQTT client persistence in Redis hashes: one hash per
// partition, one field per record.
//
//	Put          HSET    <partition> <key> <value>
//	Get          HGET    <partition> <key>
//	Remove       HDEL    <partition> <key>
//	Keys         HKEYS   <partition>
//	Clear        DEL     <partition>
//	ContainsKey  HEXISTS <partition> <key>
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "redis"

// Adapter implements persistence.Persistence on top of Redis hashes.
//
// An Adapter is driven by a single caller and is not safe for concurrent use.
type Adapter struct {
	dialer Dialer
	prefix string
	logger logger.Logger
	conn   *session
}

// session is the live connection owned by an open adapter.
type session struct {
	client    Client
	partition string
}

var _ persistence.Persistence = (*Adapter)(nil)

// NewAdapter creates an adapter bound to the Redis endpoint in cfg. No
// connection is made until Open.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	cfg.normalize()
	dialer, err := NewDialer(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapterWithDialer(dialer, cfg.Prefix, log)
}

// NewAdapterWithDialer creates an adapter using a custom connection factory.
func NewAdapterWithDialer(dialer Dialer, prefix string, log logger.Logger) (*Adapter, error) {
	if dialer == nil {
		return nil, errors.New("redis dialer is required")
	}
	return &Adapter{
		dialer: dialer,
		prefix: prefix,
		logger: logger.OrNop(log).With("backend", BackendName),
	}, nil
}

// Open connects to Redis and scopes the adapter to the partition of clientID
// and serverURI. An already open connection is released first.
func (a *Adapter) Open(clientID, serverURI string) error {
	a.release()

	partition := persistence.PartitionName(a.prefix, clientID, serverURI)
	client, err := a.dialer.Dial(context.Background())
	if err != nil {
		a.logger.Error("failed to open redis persistence", "partition", partition, "error", err)
		return persistence.Wrap(fmt.Sprintf("connect redis for partition %q", partition), err)
	}
	if client == nil {
		return persistence.Error(fmt.Sprintf("redis dialer returned no connection for partition %q", partition))
	}

	a.conn = &session{client: client, partition: partition}
	a.logger.Info("redis persistence opened", "partition", partition)
	return nil
}

// Close releases the connection. Disconnect errors are logged, never returned.
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

	if err := conn.client.Close(); err != nil {
		a.logger.Warn("failed to close redis connection", "partition", conn.partition, "error", err)
		return
	}
	a.logger.Info("redis persistence closed", "partition", conn.partition)
}

// IsOpen reports whether the adapter holds a live connection.
func (a *Adapter) IsOpen() bool {
	return a.conn != nil
}

// Partition returns the current partition name, or "" when closed.
func (a *Adapter) Partition() string {
	if a.conn == nil {
		return ""
	}
	return a.conn.partition
}

func (a *Adapter) live() (*session, error) {
	if a.conn == nil {
		return nil, persistence.ErrNotOpen
	}
	return a.conn, nil
}

// Put writes the concatenated buffers into the partition hash under key.
func (a *Adapter) Put(key string, buffers ...[]byte) error {
	s, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence put", "partition", s.partition, "key", key)

	value := persistence.Concat(buffers...)
	if err := s.client.HSet(context.Background(), s.partition, key, value).Err(); err != nil {
		return persistence.Wrap(fmt.Sprintf("put key %q", key), err)
	}
	return nil
}

// Get returns the value of key. A missing field maps to ErrPersistence like any
// other failure.
func (a *Adapter) Get(key string) ([]byte, error) {
	s, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence get", "partition", s.partition, "key", key)

	value, err := s.client.HGet(context.Background(), s.partition, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.Error(fmt.Sprintf("key %q not found", key))
	}
	if err != nil {
		return nil, persistence.Wrap(fmt.Sprintf("get key %q", key), err)
	}
	return value, nil
}

// Remove deletes key from the partition. Deleting nothing is not an error.
func (a *Adapter) Remove(key string) error {
	s, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence remove", "partition", s.partition, "key", key)

	if err := s.client.HDel(context.Background(), s.partition, key).Err(); err != nil {
		return persistence.Wrap(fmt.Sprintf("remove key %q", key), err)
	}
	return nil
}

// Keys returns the field names of the partition hash.
func (a *Adapter) Keys() ([]string, error) {
	s, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence keys", "partition", s.partition)

	keys, err := s.client.HKeys(context.Background(), s.partition).Result()
	if err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Clear deletes the partition hash with a single DEL.
func (a *Adapter) Clear() error {
	s, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence clear", "partition", s.partition)

	if err := s.client.Del(context.Background(), s.partition).Err(); err != nil {
		return persistence.Wrap(fmt.Sprintf("clear partition %q", s.partition), err)
	}
	return nil
}

// ContainsKey reports whether key exists. It returns false when the adapter is
// closed or the store call fails.
func (a *Adapter) ContainsKey(key string) bool {
	s, err := a.live()
	if err != nil {
		return false
	}
	a.logger.Debug("persistence contains key", "partition", s.partition, "key", key)

	exists, err := s.client.HExists(context.Background(), s.partition, key).Result()
	if err != nil {
		a.logger.Warn("contains key failed, reporting absent", "partition", s.partition, "key", key, "error", err)
		return false
	}
	return exists
}

// HealthCheck pings the live connection.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	s, err := a.live()
	if err != nil {
		return err
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
