// Package memory keeps MQTT client persistence in process memory.
//
// Records live in a Store that outlives individual adapters, so a client that
// reopens its session within the same process finds its pending messages.
// Nothing survives a process restart.
package memory

import (
	"errors"
	"sync"
)

var errStoreClosed = errors.New("memory store is closed")

// Store is an in-process set of partitions shared by any number of adapters.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
	closed     bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{partitions: make(map[string]map[string][]byte)}
}

func (s *Store) put(partition, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	records, ok := s.partitions[partition]
	if !ok {
		records = make(map[string][]byte)
		s.partitions[partition] = records
	}
	records[key] = value
	return nil
}

func (s *Store) get(partition, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errStoreClosed
	}
	value, ok := s.partitions[partition][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (s *Store) remove(partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	records := s.partitions[partition]
	delete(records, key)
	if len(records) == 0 {
		delete(s.partitions, partition)
	}
	return nil
}

func (s *Store) keys(partition string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	records := s.partitions[partition]
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) clear(partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	delete(s.partitions, partition)
	return nil
}

func (s *Store) available() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// Partitions returns the number of non-empty partitions.
func (s *Store) Partitions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions)
}

// Close drops every partition. Adapters using the store fail afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.partitions = nil
	return nil
}
