package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo serves the exact requests the backend issues from an
// in-memory item map.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	calls map[string]int

	// err fails every call when set.
	err error

	// conflicts fails that many conditional puts with a condition error.
	conflicts int

	// gate holds every call until it is closed.
	gate chan struct{}
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items: make(map[string]map[string]types.AttributeValue),
		calls: make(map[string]int),
	}
}

func itemID(item map[string]types.AttributeValue) string {
	return strAttr(item[attrPK]) + "|" + strAttr(item[attrSK])
}

func strAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numAttr(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) begin(op string) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.calls[op]++
	return f.err
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	err := f.begin("GetItem")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(f.items[itemID(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	err := f.begin("PutItem")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id := itemID(in.Item)
	if in.ConditionExpression != nil {
		if *in.ConditionExpression != versionCondition {
			return nil, fmt.Errorf("fake: unsupported condition %q", *in.ConditionExpression)
		}
		if f.conflicts > 0 {
			f.conflicts--
			return nil, conditionFailed()
		}
		existing, ok := f.items[id]
		if !ok {
			return nil, conditionFailed()
		}
		if _, deleted := existing[attrTTL]; deleted {
			return nil, conditionFailed()
		}
		if numAttr(existing[attrVersion]) != numAttr(in.ExpressionAttributeValues[":version"]) {
			return nil, conditionFailed()
		}
	}
	f.items[id] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	err := f.begin("UpdateItem")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if aws.ToString(in.UpdateExpression) != softDeleteUpdate || aws.ToString(in.ConditionExpression) != softDeleteCondition {
		return nil, fmt.Errorf("fake: unsupported update %q", aws.ToString(in.UpdateExpression))
	}

	id := itemID(in.Key)
	existing, ok := f.items[id]
	if !ok {
		return nil, conditionFailed()
	}
	if _, deleted := existing[attrTTL]; deleted {
		return nil, conditionFailed()
	}
	updated := copyItem(existing)
	updated[attrTTL] = in.ExpressionAttributeValues[":ttl"]
	updated[attrVersion] = numberAttr(numAttr(existing[attrVersion]) + numAttr(in.ExpressionAttributeValues[":one"]))
	f.items[id] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	err := f.begin("Query")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if aws.ToString(in.KeyConditionExpression) != "pk = :pk" {
		return nil, fmt.Errorf("fake: unsupported key condition %q", aws.ToString(in.KeyConditionExpression))
	}

	pk := strAttr(in.ExpressionAttributeValues[":pk"])
	filtered := in.FilterExpression != nil
	now := numAttr(in.ExpressionAttributeValues[":now"])

	var ids []string
	for id, item := range f.items {
		if strAttr(item[attrPK]) != pk {
			continue
		}
		if ttl, ok := item[attrTTL]; ok && filtered && numAttr(ttl) <= now {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := &dynamodb.QueryOutput{}
	for _, id := range ids {
		out.Items = append(out.Items, copyItem(f.items[id]))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// item returns the stored item for path, deleted or not.
func (f *fakeDynamo) item(path string, numShards int) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyItem(f.items[itemID(NodeKey(path, numShards))])
}

// paths lists the paths of all stored items, deleted ones included.
func (f *fakeDynamo) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, item := range f.items {
		out = append(out, strAttr(item[attrPath]))
	}
	sort.Strings(out)
	return out
}

func (f *fakeDynamo) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDynamo) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDynamo) hold(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}
