package redis

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_PutGetConcatenation verifies that for any buffers b1..bn,
// Put(key, b1..bn) followed by Get(key) yields b1‖…‖bn byte for byte, and that
// a second Put replaces the first.
func TestProperty_PutGetConcatenation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	server := newFakeServer()
	adapter := newTestAdapter(t, server)
	if err := adapter.Open("prop", "tcp://host:1883"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer adapter.Close()

	genBuffer := gen.SliceOf(gen.UInt8())
	genBuffers := gen.SliceOf(genBuffer)
	genKey := gen.Identifier()

	properties.Property("get returns the exact concatenation of put buffers", prop.ForAll(
		func(key string, buffers [][]byte) bool {
			if err := adapter.Put(key, buffers...); err != nil {
				t.Logf("put failed: %v", err)
				return false
			}
			got, err := adapter.Get(key)
			if err != nil {
				t.Logf("get failed: %v", err)
				return false
			}
			return bytes.Equal(got, bytes.Join(buffers, nil))
		},
		genKey, genBuffers,
	))

	properties.Property("second put overwrites the first", prop.ForAll(
		func(key string, first, second []byte) bool {
			if err := adapter.Put(key, first); err != nil {
				return false
			}
			if err := adapter.Put(key, second); err != nil {
				return false
			}
			got, err := adapter.Get(key)
			return err == nil && bytes.Equal(got, second)
		},
		genKey, genBuffer, genBuffer,
	))

	properties.Property("remove then contains reports absent", prop.ForAll(
		func(key string, value []byte) bool {
			if err := adapter.Put(key, value); err != nil {
				return false
			}
			if err := adapter.Remove(key); err != nil {
				return false
			}
			return !adapter.ContainsKey(key) && adapter.Remove(key) == nil
		},
		genKey, genBuffer,
	))

	properties.TestingRun(t)
}
