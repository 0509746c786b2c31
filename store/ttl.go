package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ttlName is the placeholder every expression uses for the ttl attribute.
const ttlName = "#ttl"

// Expiry returns the soft delete time of an item, or false when the item
// is live or its ttl is unreadable.
func Expiry(item map[string]types.AttributeValue) (time.Time, bool) {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// IsDeleted reports whether the item was soft deleted. A ttl in the future
// marks a delete that has not happened yet.
func IsDeleted(item map[string]types.AttributeValue) bool {
	at, ok := Expiry(item)
	return ok && !at.After(time.Now())
}

// liveFilter is the query filter hiding soft deleted nodes as of now.
type liveFilter struct {
	now int64
}

func newLiveFilter() liveFilter {
	return liveFilter{now: time.Now().Unix()}
}

func (liveFilter) expr() string {
	return "attribute_not_exists(" + ttlName + ") OR " + ttlName + " > :now"
}

func (liveFilter) names() map[string]string {
	return map[string]string{ttlName: attrTTL}
}

func (f liveFilter) values() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":now": numberAttr(f.now)}
}

// numberAttr formats a unix timestamp or counter as a DynamoDB number.
func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// merge combines expression attribute maps. Later maps win on conflicts.
func merge[V any](maps ...map[string]V) map[string]V {
	out := make(map[string]V)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
