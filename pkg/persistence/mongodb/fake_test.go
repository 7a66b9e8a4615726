package mongodb

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
)

// fakeDeployment is an in-memory collection shared by every connection the
// connector hands out.
type fakeDeployment struct {
	mu   sync.Mutex
	docs map[string]map[string][]byte
	ops  []string

	failWith error
	failOn   string

	connects    int
	disconnects int
}

func newFakeDeployment() *fakeDeployment {
	return &fakeDeployment{docs: make(map[string]map[string][]byte)}
}

func (f *fakeDeployment) connector() Connector {
	return func(context.Context) (Collection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connects++
		return &fakeCollection{f: f}, nil
	}
}

func (f *fakeDeployment) enter(op string) error {
	f.ops = append(f.ops, op)
	if f.failWith != nil && (f.failOn == "" || f.failOn == op) {
		return f.failWith
	}
	return nil
}

type fakeCollection struct {
	f *fakeDeployment
}

func (c *fakeCollection) Ping(context.Context) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.enter("Ping")
}

func (c *fakeCollection) Upsert(_ context.Context, partition, key string, value []byte) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("Upsert"); err != nil {
		return err
	}
	if c.f.docs[partition] == nil {
		c.f.docs[partition] = make(map[string][]byte)
	}
	c.f.docs[partition][key] = append([]byte{}, value...)
	return nil
}

func (c *fakeCollection) Find(_ context.Context, partition, key string) ([]byte, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("Find"); err != nil {
		return nil, err
	}
	v, ok := c.f.docs[partition][key]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return append([]byte(nil), v...), nil
}

func (c *fakeCollection) Exists(_ context.Context, partition, key string) (bool, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("Exists"); err != nil {
		return false, err
	}
	_, ok := c.f.docs[partition][key]
	return ok, nil
}

func (c *fakeCollection) Delete(_ context.Context, partition, key string) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("Delete"); err != nil {
		return err
	}
	delete(c.f.docs[partition], key)
	return nil
}

func (c *fakeCollection) Keys(_ context.Context, partition string) ([]string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("Keys"); err != nil {
		return nil, err
	}
	var keys []string
	for k := range c.f.docs[partition] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *fakeCollection) DeleteAll(_ context.Context, partition string) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter("DeleteAll"); err != nil {
		return err
	}
	delete(c.f.docs, partition)
	return nil
}

func (c *fakeCollection) Disconnect(context.Context) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.disconnects++
	return c.f.enter("Disconnect")
}
