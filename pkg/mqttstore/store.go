// Package mqttstore adapts a persistence.Persistence to the Store interface of
// the Eclipse Paho MQTT client, so in-flight packets are staged in the
// configured backend instead of memory or local files.
//
//	store := mqttstore.New(backend, clientID, brokerURL, log)
//	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID).SetStore(store)
package mqttstore

import (
	"bytes"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// Store implements mqtt.Store over a persistence backend. Paho calls the store
// from several goroutines, so calls are serialized before reaching the backend.
type Store struct {
	mu        sync.Mutex
	backend   persistence.Persistence
	clientID  string
	serverURI string
	logger    logger.Logger
	opened    bool
}

var _ mqtt.Store = (*Store)(nil)

// New returns a store that opens backend on the partition of clientID and serverURI.
func New(backend persistence.Persistence, clientID, serverURI string, log logger.Logger) *Store {
	return &Store{
		backend:   backend,
		clientID:  clientID,
		serverURI: serverURI,
		logger:    logger.OrNop(log).With("component", "mqttstore", "client_id", clientID),
	}
}

// Open opens the backend. Paho has no error path here, so failures are logged
// and later calls become no-ops.
func (s *Store) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Open(s.clientID, s.serverURI); err != nil {
		s.opened = false
		s.logger.Error("failed to open mqtt store", "server_uri", s.serverURI, "error", err)
		return
	}
	s.opened = true
	s.logger.Debug("mqtt store opened", "server_uri", s.serverURI)
}

// IsOpen reports whether the last Open succeeded and Close has not been called.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Put serializes the packet and stores it under key.
func (s *Store) Put(key string, message packets.ControlPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.logger.Error("trying to use mqtt store, but not open", "operation", "put", "key", key)
		return
	}

	var buf bytes.Buffer
	if err := message.Write(&buf); err != nil {
		s.logger.Error("failed to encode packet", "key", key, "error", err)
		return
	}
	if err := s.backend.Put(key, buf.Bytes()); err != nil {
		s.logger.Error("failed to persist packet", "key", key, "error", err)
	}
}

// Get returns the packet stored under key, or nil when it is missing or unreadable.
func (s *Store) Get(key string) packets.ControlPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.logger.Error("trying to use mqtt store, but not open", "operation", "get", "key", key)
		return nil
	}

	raw, err := s.backend.Get(key)
	if err != nil {
		s.logger.Warn("packet not retrieved", "key", key, "error", err)
		return nil
	}
	cp, err := packets.ReadPacket(bytes.NewReader(raw))
	if err != nil {
		s.logger.Error("failed to decode stored packet", "key", key, "error", err)
		return nil
	}
	return cp
}

// All lists the stored keys. Failures yield an empty list.
func (s *Store) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.logger.Error("trying to use mqtt store, but not open", "operation", "all")
		return nil
	}

	keys, err := s.backend.Keys()
	if err != nil {
		s.logger.Error("failed to list stored packets", "error", err)
		return nil
	}
	return keys
}

// Del removes the packet stored under key.
func (s *Store) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.logger.Error("trying to use mqtt store, but not open", "operation", "del", "key", key)
		return
	}
	if err := s.backend.Remove(key); err != nil {
		s.logger.Error("failed to delete packet", "key", key, "error", err)
	}
}

// Close closes the backend. Stored packets are kept.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("failed to close mqtt store", "error", err)
	}
	s.opened = false
	s.logger.Debug("mqtt store closed")
}

// Reset removes every stored packet.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.logger.Error("trying to use mqtt store, but not open", "operation", "reset")
		return
	}
	if err := s.backend.Clear(); err != nil {
		s.logger.Error("failed to reset mqtt store", "error", err)
	}
}
