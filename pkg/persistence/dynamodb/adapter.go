// Package dynamodb persists MQTT client records in a DynamoDB table.
//
// The table uses partition_key (S) as hash key and record_key (S) as range
// key; the record bytes live in record_value (B). One partition maps to one
// hash key, so listing and clearing a partition are key-condition queries.
//
// Clear deletes in batches of 25 and is therefore not atomic: a failure part
// way through leaves the remaining records in place. Unprocessed batch items
// are reported as ErrUnprocessedItems and never resubmitted; the owning
// client decides whether to clear again.
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/persistence"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "dynamodb"

const (
	attrPartition = "partition_key"
	attrKey       = "record_key"
	attrValue     = "record_value"

	batchWriteLimit = 25
)

// ErrUnprocessedItems is joined into Clear errors when DynamoDB accepted a
// batch but left some deletes unprocessed, usually because of throttling.
var ErrUnprocessedItems = errors.New("dynamodb left batch items unprocessed")

// Adapter implements persistence.Persistence over a DynamoDB table.
type Adapter struct {
	factory ClientFactory
	config  Config
	logger  logger.Logger
	conn    *session
}

type session struct {
	api       API
	partition string
}

var _ persistence.Persistence = (*Adapter)(nil)

// NewAdapter validates cfg and returns a closed adapter using the AWS SDK client.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	factory, err := NewClientFactory(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapterWithFactory(cfg, factory, log)
}

// NewAdapterWithFactory is NewAdapter with a custom client factory.
func NewAdapterWithFactory(cfg Config, factory ClientFactory, log logger.Logger) (*Adapter, error) {
	if factory == nil {
		return nil, errors.New("dynamodb client factory is required")
	}
	cfg.normalize()
	return &Adapter{
		factory: factory,
		config:  cfg,
		logger:  logger.OrNop(log).With("backend", BackendName, "table", cfg.Table),
	}, nil
}

// Open builds the client, checks the table is reachable and scopes the adapter
// to the partition of clientID and serverURI.
func (a *Adapter) Open(clientID, serverURI string) error {
	a.release()

	partition := persistence.PartitionName(a.config.Prefix, clientID, serverURI)
	ctx, cancel := a.withOperationTimeout()
	defer cancel()

	api, err := a.factory(ctx)
	if err != nil {
		return persistence.Wrap(fmt.Sprintf("open partition %q", partition), err)
	}
	if api == nil {
		return persistence.Error(fmt.Sprintf("open partition %q: factory returned no client", partition))
	}
	if _, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(a.config.Table)}); err != nil {
		return persistence.Wrap(fmt.Sprintf("open partition %q: describe table %q", partition, a.config.Table), err)
	}

	a.conn = &session{api: api, partition: partition}
	a.logger.Info("dynamodb persistence opened", "partition", partition)
	return nil
}

// Close drops the client.
func (a *Adapter) Close() error {
	a.release()
	return nil
}

func (a *Adapter) release() {
	if a.conn == nil {
		return
	}
	partition := a.conn.partition
	a.conn = nil
	a.logger.Info("dynamodb persistence closed", "partition", partition)
}

func (a *Adapter) live() (*session, error) {
	if a.conn == nil {
		return nil, persistence.ErrNotOpen
	}
	return a.conn, nil
}

// IsOpen reports whether the adapter holds a client.
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

func itemKey(partition, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: partition},
		attrKey:       &types.AttributeValueMemberS{Value: key},
	}
}

// Put writes the concatenated buffers under key, replacing any previous item.
func (a *Adapter) Put(key string, buffers ...[]byte) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence put", "partition", conn.partition, "key", key)

	item := itemKey(conn.partition, key)
	item[attrValue] = &types.AttributeValueMemberB{Value: persistence.Concat(buffers...)}

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if _, err := conn.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.config.Table),
		Item:      item,
	}); err != nil {
		return persistence.Wrap(fmt.Sprintf("put key %q", key), err)
	}
	return nil
}

// Get reads key with a strongly consistent read.
func (a *Adapter) Get(key string) ([]byte, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence get", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	out, err := conn.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(a.config.Table),
		Key:            itemKey(conn.partition, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, persistence.Wrap(fmt.Sprintf("get key %q", key), err)
	}
	if len(out.Item) == 0 {
		return nil, persistence.Error(fmt.Sprintf("key %q not found", key))
	}
	value, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, persistence.Error(fmt.Sprintf("key %q has no binary %s attribute", key, attrValue))
	}
	if value.Value == nil {
		return []byte{}, nil
	}
	return value.Value, nil
}

// Remove deletes key. DeleteItem on a missing item succeeds.
func (a *Adapter) Remove(key string) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence remove", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	if _, err := conn.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(a.config.Table),
		Key:       itemKey(conn.partition, key),
	}); err != nil {
		return persistence.Wrap(fmt.Sprintf("remove key %q", key), err)
	}
	return nil
}

// Keys pages through the partition and returns every record key.
func (a *Adapter) Keys() ([]string, error) {
	conn, err := a.live()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("persistence keys", "partition", conn.partition)

	keys, err := a.queryKeys(conn)
	if err != nil {
		return nil, persistence.Wrap("list keys", err)
	}
	return keys, nil
}

func (a *Adapter) queryKeys(conn *session) ([]string, error) {
	paginator := dynamodb.NewQueryPaginator(conn.api, &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("#p = :p"),
		ProjectionExpression:   aws.String("#k"),
		ExpressionAttributeNames: map[string]string{
			"#p": attrPartition,
			"#k": attrKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: conn.partition},
		},
		ConsistentRead: aws.Bool(true),
	})

	keys := []string{}
	for paginator.HasMorePages() {
		ctx, cancel := a.withOperationTimeout()
		page, err := paginator.NextPage(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if k, ok := item[attrKey].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
	}
	return keys, nil
}

// Clear deletes every item of the partition in batches.
func (a *Adapter) Clear() error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	a.logger.Debug("persistence clear", "partition", conn.partition)

	keys, err := a.queryKeys(conn)
	if err != nil {
		return persistence.Wrap(fmt.Sprintf("clear partition %q", conn.partition), err)
	}
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(conn.partition, key)},
			})
		}
		if err := a.batchDelete(conn, requests); err != nil {
			return persistence.Wrap(fmt.Sprintf("clear partition %q", conn.partition), err)
		}
	}
	return nil
}

func (a *Adapter) batchDelete(conn *session, requests []types.WriteRequest) error {
	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	out, err := conn.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{a.config.Table: requests},
	})
	if err != nil {
		if IsThrottlingError(err) {
			a.logger.Warn("batch delete throttled", "partition", conn.partition, "error", err)
		}
		return err
	}
	if n := len(out.UnprocessedItems[a.config.Table]); n > 0 {
		a.logger.Warn("batch delete left unprocessed items", "partition", conn.partition, "unprocessed", n, "requested", len(requests))
		return fmt.Errorf("%w: %d of %d", ErrUnprocessedItems, n, len(requests))
	}
	return nil
}

// ContainsKey reports whether an item exists for key. Failures read as false.
func (a *Adapter) ContainsKey(key string) bool {
	conn, err := a.live()
	if err != nil {
		return false
	}
	a.logger.Debug("persistence contains key", "partition", conn.partition, "key", key)

	ctx, cancel := a.withOperationTimeout()
	defer cancel()
	out, err := conn.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(a.config.Table),
		Key:                      itemKey(conn.partition, key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey},
	})
	if err != nil {
		a.logger.Warn("contains key failed, reporting absent", "partition", conn.partition, "key", key, "error", err)
		return false
	}
	return len(out.Item) > 0
}

// HealthCheck describes the table through the live client.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	conn, err := a.live()
	if err != nil {
		return err
	}
	if _, err := conn.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(a.config.Table)}); err != nil {
		return persistence.Wrap("dynamodb health check failed", err)
	}
	return nil
}

// IsThrottlingError reports whether err comes from exceeded provisioned throughput.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}
