// Package persistence defines the storage contract an MQTT client uses to stage
// in-flight messages outside local disk, plus helpers shared by every backend.
//
// A backend is bound to its store endpoint at construction and driven by the
// owning client through Open, the record operations and Close. Records are
// opaque byte blobs under string keys, scoped to one partition per
// (client id, server uri) pair.
package persistence

import (
	"bytes"
	"strings"
)

// Separators of a partition name: "[prefix/]clientID:serverURI".
const (
	PartitionSeparator = ":"
	PrefixSeparator    = "/"
)

// partitionEscaper percent-encodes the separators inside a prefix or client
// id, so the first raw ":" always ends the client id and a raw "/" before it
// always ends the prefix.
var partitionEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "/", "%2F")

// Persistence is the capability a messaging client expects from a pluggable store.
//
// Record operations are only valid between Open and Close. Outside that window
// they return an error satisfying errors.Is(err, ErrPersistence), except
// ContainsKey, which reports false.
type Persistence interface {
	// Open binds the backend to the partition of clientID and serverURI and
	// acquires a live connection.
	Open(clientID, serverURI string) error
	// Close releases the connection. It is a no-op when nothing is open.
	Close() error
	// Put stores the in-order concatenation of buffers under key, replacing any previous value.
	Put(key string, buffers ...[]byte) error
	// Get returns the value stored under key. A missing key is an error.
	Get(key string) ([]byte, error)
	// Remove deletes key. Removing a missing key succeeds.
	Remove(key string) error
	// Keys lists the keys of the partition in no particular order.
	Keys() ([]string, error)
	// Clear deletes the whole partition.
	Clear() error
	// ContainsKey reports whether key exists. Failures read as false.
	ContainsKey(key string) bool
}

// PartitionName returns the namespace holding the records of one client session.
// With an empty prefix and a client id free of "%", ":" and "/" the result is
// "{clientID}:{serverURI}". Those characters are percent-encoded in the prefix
// and the client id, which makes the name unique per (prefix, clientID,
// serverURI) triple.
func PartitionName(prefix, clientID, serverURI string) string {
	name := partitionEscaper.Replace(clientID) + PartitionSeparator + serverURI
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return name
	}
	return partitionEscaper.Replace(prefix) + PrefixSeparator + name
}

// Concat joins buffers in order into a single freshly allocated value.
func Concat(buffers ...[]byte) []byte {
	value := bytes.Join(buffers, nil)
	if value == nil {
		return []byte{}
	}
	return value
}
