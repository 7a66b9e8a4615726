package memory

import (
	"fmt"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "memory"

// Adapter implements persistence.Persistence over a shared Store.
type Adapter struct {
	store     *Store
	logger    logger.Logger
	prefix    string
	partition string
	open      bool
}

var _ persistence.Persistence = (*Adapter)(nil)

// NewAdapter returns an adapter over store. A nil store gets a private one.
func NewAdapter(store *Store, log logger.Logger) *Adapter {
	if store == nil {
		store = NewStore()
	}
	return &Adapter{store: store, logger: logger.OrNop(log).With("backend", BackendName)}
}

// WithPrefix namespaces every partition the adapter opens.
func (a *Adapter) WithPrefix(prefix string) *Adapter {
	a.prefix = prefix
	return a
}

// Open scopes the adapter to the partition of clientID and serverURI.
func (a *Adapter) Open(clientID, serverURI string) error {
	partition := persistence.PartitionName(a.prefix, clientID, serverURI)
	if err := a.store.available(); err != nil {
		a.open = false
		a.partition = ""
		return persistence.Wrap(fmt.Sprintf("open partition %q", partition), err)
	}
	a.partition = partition
	a.open = true
	a.logger.Debug("persistence open", "partition", partition)
	return nil
}

// Close detaches the adapter from its partition. Records stay in the store.
func (a *Adapter) Close() error {
	if a.open {
		a.logger.Debug("persistence close", "partition", a.partition)
	}
	a.open = false
	a.partition = ""
	return nil
}

// IsOpen reports whether the adapter is scoped to a partition.
func (a *Adapter) IsOpen() bool { return a.open }

// Partition returns the partition name, or "" when closed.
func (a *Adapter) Partition() string { return a.partition }

func (a *Adapter) live() (string, error) {
	if !a.open {
		return "", persistence.ErrNotOpen
	}
	return a.partition, nil
}

// Put stores a copy of the concatenated buffers.
func (a *Adapter) Put(key string, buffers ...[]byte) error {
	partition, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence put", "partition", partition, "key", key)
	if err := a.store.put(partition, key, persistence.Concat(buffers...)); err != nil {
		return persistence.Wrap(fmt.Sprintf("put key %q", key), err)
	}
	return nil
}

// Get returns a copy of the stored value.
func (a *Adapter) Get(key string) ([]byte, error) {
	partition, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence get", "partition", partition, "key", key)
	value, ok, err := a.store.get(partition, key)
	if err != nil {
		return nil, persistence.Wrap(fmt.Sprintf("get key %q", key), err)
	}
	if !ok {
		return nil, persistence.Error(fmt.Sprintf("key %q not found", key))
	}
	return value, nil
}

// Remove deletes key; a missing key is not an error.
func (a *Adapter) Remove(key string) error {
	partition, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence remove", "partition", partition, "key", key)
	if err := a.store.remove(partition, key); err != nil {
		return persistence.Wrap(fmt.Sprintf("remove key %q", key), err)
	}
	return nil
}

// Keys lists the partition's keys.
func (a *Adapter) Keys() ([]string, error) {
	partition, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence keys", "partition", partition)
	keys, err := a.store.keys(partition)
	if err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	return keys, nil
}

// Clear drops the partition.
func (a *Adapter) Clear() error {
	partition, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence clear", "partition", partition)
	if err := a.store.clear(partition); err != nil {
		return persistence.Wrap(fmt.Sprintf("clear partition %q", partition), err)
	}
	return nil
}

// ContainsKey reports whether key is stored.
func (a *Adapter) ContainsKey(key string) bool {
	partition, err := a.live()
	if err != nil {
		return false
	}
	a.logger.Debug("persistence contains key", "partition", partition, "key", key)
	_, ok, err := a.store.get(partition, key)
	return err == nil && ok
}
