package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/trellis/internal/shard"
	"github.com/jacentio/trellis/remote"
)

// Item attribute names.
const (
	attrPK        = "pk"
	attrSK        = "sk"
	attrPath      = "path"
	attrParent    = "parent"
	attrValue     = "value"
	attrVersion   = "version"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"
)

// Node is one stored tree node: the whole value of a path.
type Node struct {
	// Path is the clean path of the node.
	Path string

	// Value is the node value in its generic form.
	Value any

	// Version is the optimistic lock version.
	Version int64

	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string

	// UpdatedAt is the ISO 8601 last update timestamp.
	UpdatedAt string

	// TTL is the unix time the node was soft deleted at, 0 while live.
	TTL int64

	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue
}

// Key returns the last path segment.
func (n *Node) Key() string {
	return remote.BaseName(n.Path)
}

// ref is the reference under which the children of path are partitioned.
func ref(path string) string {
	return "/" + path
}

// NodeKey returns the primary key of the item holding path.
func NodeKey(path string, numShards int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: shard.ChildPK(ref(remote.ParentPath(path)), remote.BaseName(path), numShards)},
		attrSK: &types.AttributeValueMemberS{Value: remote.BaseName(path)},
	}
}

// marshalNode builds the item for n. Version and timestamps are written
// as given.
func marshalNode(n *Node, numShards int) (map[string]types.AttributeValue, error) {
	value, err := attributevalue.Marshal(n.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, n.Path, err)
	}
	item := NodeKey(n.Path, numShards)
	item[attrPath] = &types.AttributeValueMemberS{Value: n.Path}
	item[attrParent] = &types.AttributeValueMemberS{Value: remote.ParentPath(n.Path)}
	item[attrValue] = value
	item[attrVersion] = numberAttr(n.Version)
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: n.CreatedAt}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: n.UpdatedAt}
	if n.TTL > 0 {
		item[attrTTL] = numberAttr(n.TTL)
	}
	return item, nil
}

// UnmarshalNode converts a DynamoDB item into a Node. Items that are not
// nodes yield an error.
func UnmarshalNode(raw map[string]types.AttributeValue) (*Node, error) {
	n := &Node{Raw: raw}

	path, ok := raw[attrPath].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: item has no path", ErrInvalidValue)
	}
	n.Path = path.Value

	if v, ok := raw[attrValue]; ok {
		var value any
		if err := attributevalue.Unmarshal(v, &value); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, n.Path, err)
		}
		normalized, err := remote.Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, n.Path, err)
		}
		n.Value = normalized
	}
	if v, ok := raw[attrVersion].(*types.AttributeValueMemberN); ok {
		version, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: version: %w", ErrInvalidValue, n.Path, err)
		}
		n.Version = version
	}
	if v, ok := raw[attrCreatedAt].(*types.AttributeValueMemberS); ok {
		n.CreatedAt = v.Value
	}
	if v, ok := raw[attrUpdatedAt].(*types.AttributeValueMemberS); ok {
		n.UpdatedAt = v.Value
	}
	if v, ok := raw[attrTTL].(*types.AttributeValueMemberN); ok {
		ttl, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: ttl: %w", ErrInvalidValue, n.Path, err)
		}
		n.TTL = ttl
	}
	return n, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
