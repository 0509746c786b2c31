// Package shard provides partition key generation for the child partitions
// of the node table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// Max is the largest supported shard count.
const Max = 256

// Count clamps numShards to [1, Max].
func Count(numShards int) int {
	if numShards < 1 {
		return 1
	}
	if numShards > Max {
		return Max
	}
	return numShards
}

// ChildPK computes the partition key holding the child key of parentRef.
// With numShards=1, all children go to shard "00".
// With numShards>1, children are distributed across shards based on the key hash.
func ChildPK(parentRef, key string, numShards int) string {
	numShards = Count(numShards)
	if numShards == 1 {
		return PK(parentRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return PK(parentRef, int(h.Sum32()%uint32(numShards)))
}

// PK returns the partition key of one shard of parentRef. Readers fan out
// over PK(parentRef, 0) .. PK(parentRef, Count(numShards)-1).
func PK(parentRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}
