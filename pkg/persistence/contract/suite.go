// Package contract holds the conformance suite every persistence backend must pass.
package contract

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// Factory returns a new, unopened backend. Every call must address the same
// underlying store so that isolation and durability across instances can be
// observed.
type Factory func(t *testing.T) persistence.Persistence

const serverURI = "tcp://host:1883"

// TestPersistenceContract runs the shared persistence conformance suite.
// Client identifiers are derived from subtest names, so a store shared by
// several runs does not leak records between subtests.
func TestPersistenceContract(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("closed_adapter", func(t *testing.T) {
		p := newBackend(t)
		assertClosed(t, p)

		if err := p.Close(); err != nil {
			t.Fatalf("close without open should succeed, got %v", err)
		}
	})

	t.Run("scenario", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "dev1"), serverURI)

		if err := p.Put("m1", []byte("AB"), []byte("CD")); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := p.Get("m1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != "ABCD" {
			t.Fatalf("expected ABCD, got %q", got)
		}
		keys, err := p.Keys()
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) != 1 || keys[0] != "m1" {
			t.Fatalf("expected [m1], got %v", keys)
		}
		if err := p.Remove("m1"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if p.ContainsKey("m1") {
			t.Fatal("expected m1 to be gone after remove")
		}
		if err := p.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	t.Run("concatenation_preserves_order", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "concat"), serverURI)
		defer p.Close()

		buffers := [][]byte{
			{0x30, 0x0c},
			{},
			{0x00, 0x04, 'p', 'i', 'n', 'g'},
			{0xff, 0x00, 0x7f},
		}
		if err := p.Put("o.1", buffers...); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := p.Get("o.1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		want := bytes.Join(buffers, nil)
		if !bytes.Equal(got, want) {
			t.Fatalf("expected %x, got %x", want, got)
		}
	})

	t.Run("put_overwrites", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "overwrite"), serverURI)
		defer p.Close()

		if err := p.Put("k", []byte("first")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := p.Put("k", []byte("second")); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := p.Get("k")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != "second" {
			t.Fatalf("expected overwrite, got %q", got)
		}
	})

	t.Run("get_missing_key", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "missing"), serverURI)
		defer p.Close()

		if _, err := p.Get("absent"); !errors.Is(err, persistence.ErrPersistence) {
			t.Fatalf("expected ErrPersistence for missing key, got %v", err)
		}
	})

	t.Run("remove_is_idempotent", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "remove"), serverURI)
		defer p.Close()

		if err := p.Remove("never-stored"); err != nil {
			t.Fatalf("remove of absent key should succeed, got %v", err)
		}
		if err := p.Put("k", []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if !p.ContainsKey("k") {
			t.Fatal("expected key to be present after put")
		}
		if err := p.Remove("k"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if p.ContainsKey("k") {
			t.Fatal("expected key to be absent after remove")
		}
		if err := p.Remove("k"); err != nil {
			t.Fatalf("second remove should succeed, got %v", err)
		}
	})

	t.Run("clear", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "clear"), serverURI)
		defer p.Close()

		if err := p.Clear(); err != nil {
			t.Fatalf("clear of empty partition should succeed, got %v", err)
		}
		for _, k := range []string{"a", "b", "c"} {
			if err := p.Put(k, []byte(k)); err != nil {
				t.Fatalf("put %s: %v", k, err)
			}
		}
		if err := p.Clear(); err != nil {
			t.Fatalf("clear: %v", err)
		}
		keys, err := p.Keys()
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) != 0 {
			t.Fatalf("expected no keys after clear, got %v", keys)
		}
	})

	t.Run("keys_lists_every_record", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "keys"), serverURI)
		defer p.Close()

		keys, err := p.Keys()
		if err != nil {
			t.Fatalf("keys on empty partition: %v", err)
		}
		if keys == nil || len(keys) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", keys)
		}

		want := []string{"i.7", "o.1", "o.2"}
		for _, k := range want {
			if err := p.Put(k, []byte("x")); err != nil {
				t.Fatalf("put %s: %v", k, err)
			}
		}
		keys, err = p.Keys()
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != len(want) {
			t.Fatalf("expected %v, got %v", want, keys)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, keys)
			}
		}
	})

	t.Run("operations_after_close", func(t *testing.T) {
		p := openBackend(t, newBackend, clientID(t, "after-close"), serverURI)
		if err := p.Put("k", []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		assertClosed(t, p)
		if err := p.Close(); err != nil {
			t.Fatalf("second close should succeed, got %v", err)
		}
	})

	t.Run("records_survive_reopen", func(t *testing.T) {
		id := clientID(t, "durable")
		p := openBackend(t, newBackend, id, serverURI)
		if err := p.Put("o.42", []byte("pending")); err != nil {
			t.Fatalf("put: %v", err)
		}
		_ = p.Close()

		other := clientID(t, "other")
		if err := p.Open(other, serverURI); err != nil {
			t.Fatalf("reopen with other id: %v", err)
		}
		if p.ContainsKey("o.42") {
			t.Fatal("reopened adapter must be scoped to the new partition")
		}
		_ = p.Close()

		recovered := newBackend(t)
		if err := recovered.Open(id, serverURI); err != nil {
			t.Fatalf("open recovered: %v", err)
		}
		defer func() {
			_ = recovered.Clear()
			_ = recovered.Close()
		}()
		got, err := recovered.Get("o.42")
		if err != nil {
			t.Fatalf("expected record to survive a new adapter instance: %v", err)
		}
		if string(got) != "pending" {
			t.Fatalf("expected pending, got %q", got)
		}
	})

	t.Run("partitions_are_isolated", func(t *testing.T) {
		first := openBackend(t, newBackend, clientID(t, "client-a"), serverURI)
		defer first.Close()
		second := openBackend(t, newBackend, clientID(t, "client-b"), serverURI)
		defer second.Close()
		sameClientOtherServer := openBackend(t, newBackend, clientID(t, "client-a"), "ssl://other:8883")
		defer sameClientOtherServer.Close()

		if err := first.Put("m1", []byte("from-a")); err != nil {
			t.Fatalf("put: %v", err)
		}
		for name, p := range map[string]persistence.Persistence{"other client": second, "other server": sameClientOtherServer} {
			keys, err := p.Keys()
			if err != nil {
				t.Fatalf("%s keys: %v", name, err)
			}
			if len(keys) != 0 {
				t.Fatalf("%s observed foreign keys %v", name, keys)
			}
			if p.ContainsKey("m1") {
				t.Fatalf("%s observed foreign record", name)
			}
		}
		if err := second.Clear(); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if !first.ContainsKey("m1") {
			t.Fatal("clearing one partition must not touch another")
		}
	})
}

func openBackend(t *testing.T, newBackend Factory, id, uri string) persistence.Persistence {
	t.Helper()
	p := newBackend(t)
	if err := p.Open(id, uri); err != nil {
		t.Fatalf("open(%q, %q): %v", id, uri, err)
	}
	if err := p.Clear(); err != nil {
		t.Fatalf("reset partition: %v", err)
	}
	return p
}

func assertClosed(t *testing.T, p persistence.Persistence) {
	t.Helper()

	checks := map[string]error{
		"put":    p.Put("k", []byte("v")),
		"remove": p.Remove("k"),
		"clear":  p.Clear(),
	}
	_, checks["get"] = p.Get("k")
	_, checks["keys"] = p.Keys()

	for op, err := range checks {
		if !errors.Is(err, persistence.ErrPersistence) {
			t.Errorf("%s on closed adapter: expected ErrPersistence, got %v", op, err)
		}
	}
	if p.ContainsKey("k") {
		t.Error("contains key on closed adapter should be false")
	}
}

func clientID(t *testing.T, base string) string {
	return base + "@" + t.Name()
}
