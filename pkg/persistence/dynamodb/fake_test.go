package dynamodb

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeTable is an in-memory DynamoDB table keyed by (partition_key, record_key).
type fakeTable struct {
	mu    sync.Mutex
	name  string
	items map[string]map[string][]byte
	calls []string

	pageSize    int
	unprocessed int
	failWith    error
	failOn      string
}

func newFakeTable() *fakeTable {
	return &fakeTable{name: defaultTable, items: make(map[string]map[string][]byte), pageSize: 2}
}

func (f *fakeTable) factory() ClientFactory {
	return func(context.Context) (API, error) { return f, nil }
}

func (f *fakeTable) enter(op string, table *string) error {
	f.calls = append(f.calls, op)
	if f.failWith != nil && (f.failOn == "" || f.failOn == op) {
		return f.failWith
	}
	if aws.ToString(table) != f.name {
		return &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return nil
}

func (f *fakeTable) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func keyOf(key map[string]types.AttributeValue) (string, string, error) {
	p, ok := key[attrPartition].(*types.AttributeValueMemberS)
	if !ok {
		return "", "", errors.New("missing partition key")
	}
	k, ok := key[attrKey].(*types.AttributeValueMemberS)
	if !ok {
		return "", "", errors.New("missing range key")
	}
	return p.Value, k.Value, nil
}

func (f *fakeTable) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeTable", in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem", in.TableName); err != nil {
		return nil, err
	}
	p, k, err := keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	v, ok := in.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("missing value attribute")
	}
	if f.items[p] == nil {
		f.items[p] = make(map[string][]byte)
	}
	f.items[p][k] = append([]byte{}, v.Value...)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem", in.TableName); err != nil {
		return nil, err
	}
	p, k, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	v, ok := f.items[p][k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item := map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: p},
		attrKey:       &types.AttributeValueMemberS{Value: k},
	}
	if in.ProjectionExpression == nil {
		item[attrValue] = &types.AttributeValueMemberB{Value: append([]byte{}, v...)}
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem", in.TableName); err != nil {
		return nil, err
	}
	p, k, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	delete(f.items[p], k)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Query supports the single key condition the adapter issues and pages
// results pageSize at a time.
func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query", in.TableName); err != nil {
		return nil, err
	}
	if aws.ToString(in.KeyConditionExpression) != "#p = :p" || in.ExpressionAttributeNames["#p"] != attrPartition {
		return nil, errors.New("unsupported key condition")
	}
	p, ok := in.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing :p value")
	}

	keys := make([]string, 0, len(f.items[p.Value]))
	for k := range f.items[p.Value] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		_, last, err := keyOf(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, last) + 1
	}
	end := min(start+f.pageSize, len(keys))

	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: k},
		})
	}
	out.Count = int32(len(out.Items))
	if end < len(keys) {
		out.LastEvaluatedKey = itemKey(p.Value, keys[end-1])
	}
	return out, nil
}

// BatchWriteItem applies deletes, leaving the last `unprocessed` requests of
// the first call unprocessed.
func (f *fakeTable) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "BatchWriteItem")
	if f.failWith != nil && (f.failOn == "" || f.failOn == "BatchWriteItem") {
		return nil, f.failWith
	}

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, requests := range in.RequestItems {
		if table != f.name {
			return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
		}
		if len(requests) > batchWriteLimit {
			return nil, errors.New("too many items in batch")
		}
		apply := requests
		if f.unprocessed > 0 && f.unprocessed <= len(requests) {
			apply = requests[:len(requests)-f.unprocessed]
			out.UnprocessedItems[table] = requests[len(requests)-f.unprocessed:]
			f.unprocessed = 0
		}
		for _, r := range apply {
			if r.DeleteRequest == nil {
				return nil, errors.New("only delete requests are supported")
			}
			p, k, err := keyOf(r.DeleteRequest.Key)
			if err != nil {
				return nil, err
			}
			delete(f.items[p], k)
		}
	}
	return out, nil
}
