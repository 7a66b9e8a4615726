package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultDatabase         = "mqtt"
	defaultCollection       = "mqtt_persistence"
	defaultConnectTimeout   = 5 * time.Second
	defaultOperationTimeout = 5 * time.Second

	fieldID        = "_id"
	fieldPartition = "partition"
	fieldKey       = "key"
)

// Collection is the record store the adapter drives. Find reports a missing
// record with mongo.ErrNoDocuments.
type Collection interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, partition, key string, value []byte) error
	Find(ctx context.Context, partition, key string) ([]byte, error)
	Exists(ctx context.Context, partition, key string) (bool, error)
	Delete(ctx context.Context, partition, key string) error
	Keys(ctx context.Context, partition string) ([]string, error)
	DeleteAll(ctx context.Context, partition string) error
	Disconnect(ctx context.Context) error
}

// Connector connects a Collection when the adapter opens.
type Connector func(ctx context.Context) (Collection, error)

// Config holds MongoDB backend configuration.
type Config struct {
	URL              string
	Database         string
	Collection       string
	Prefix           string
	AutoIndex        bool
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Database = strings.TrimSpace(c.Database)
	c.Collection = strings.TrimSpace(c.Collection)
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// record is the stored document. The compound _id makes (partition, key)
// unique; the top level partition field carries the index used by Keys and
// Clear.
type record struct {
	ID        recordID `bson:"_id"`
	Partition string   `bson:"partition"`
	Key       string   `bson:"key"`
	Value     []byte   `bson:"value"`
}

type recordID struct {
	Partition string `bson:"p"`
	Key       string `bson:"k"`
}

func byID(partition, key string) bson.D {
	return bson.D{{Key: fieldID, Value: recordID{Partition: partition, Key: key}}}
}

func byPartition(partition string) bson.D {
	return bson.D{{Key: fieldPartition, Value: partition}}
}

// NewConnector returns a connector for the official MongoDB driver. With
// AutoIndex set it creates the partition index on connect.
func NewConnector(cfg Config) (Connector, error) {
	cfg.normalize()
	if cfg.URL == "" {
		return nil, errors.New("mongodb URL is required")
	}

	return func(ctx context.Context) (Collection, error) {
		client, err := mongo.Connect(ctx, options.Client().
			ApplyURI(cfg.URL).
			SetConnectTimeout(cfg.ConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		coll := client.Database(cfg.Database).Collection(cfg.Collection)
		if cfg.AutoIndex {
			if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys: bson.D{{Key: fieldPartition, Value: 1}},
			}); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("failed to create partition index: %w", err)
			}
		}
		return &driverCollection{client: client, coll: coll}, nil
	}, nil
}

type driverCollection struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (c *driverCollection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *driverCollection) Upsert(ctx context.Context, partition, key string, value []byte) error {
	doc := record{
		ID:        recordID{Partition: partition, Key: key},
		Partition: partition,
		Key:       key,
		Value:     value,
	}
	_, err := c.coll.ReplaceOne(ctx, byID(partition, key), doc, options.Replace().SetUpsert(true))
	return err
}

func (c *driverCollection) Find(ctx context.Context, partition, key string) ([]byte, error) {
	var doc record
	if err := c.coll.FindOne(ctx, byID(partition, key)).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (c *driverCollection) Exists(ctx context.Context, partition, key string) (bool, error) {
	n, err := c.coll.CountDocuments(ctx, byID(partition, key), options.Count().SetLimit(1))
	return n > 0, err
}

func (c *driverCollection) Delete(ctx context.Context, partition, key string) error {
	_, err := c.coll.DeleteOne(ctx, byID(partition, key))
	return err
}

func (c *driverCollection) Keys(ctx context.Context, partition string) ([]string, error) {
	cursor, err := c.coll.Find(ctx, byPartition(partition),
		options.Find().SetProjection(bson.D{{Key: fieldKey, Value: 1}, {Key: fieldID, Value: 0}}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		Key string `bson:"key"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys, nil
}

func (c *driverCollection) DeleteAll(ctx context.Context, partition string) error {
	_, err := c.coll.DeleteMany(ctx, byPartition(partition))
	return err
}

func (c *driverCollection) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
