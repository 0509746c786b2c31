// Package store provides a DynamoDB backed remote.Backend that stores a
// tree of JSON-like values.
//
// # Layout
//
// Every stored node is one item of a single table:
//
//	pk          "/" + parent path + "#" + shard, see internal/shard
//	sk          last path segment
//	path        full path
//	parent      parent path
//	value       node value
//	version     optimistic lock version
//	created_at  ISO 8601
//	updated_at  ISO 8601
//	ttl         unix time of the soft delete, absent while live
//
// The children of a path are spread over [Config.NumShards] partitions
// and read with a parallel query per partition.
//
// # Values
//
// The value of a path is, in order:
//
//   - a field of the nearest node stored at or above it
//   - the map of the nodes stored directly below it
//   - nil
//
// Writes follow the same rule, so a document stored as a node absorbs
// writes to its fields while a collection keeps one node per child.
//
// # Deletes
//
// Removing a node sets its TTL, which hides it from reads at once and
// lets DynamoDB expire it later. Writes conditioned on the version fail
// against soft deleted nodes. [Backend.CascadeRemove] propagates a delete
// to the children of a path; the stream package calls it for every node
// whose TTL is newly set.
//
// # Live updates
//
// Listeners are primed with a read and refreshed after every write made
// through the Backend. Writes made elsewhere reach them through
// [Backend.Notify], which the stream package feeds from the table's
// stream.
//
// # Errors
//
//   - [ErrNotFound] - node vanished during a read-modify-write
//   - [ErrConcurrentModification] - optimistic lock failed too often
//   - [ErrInvalidValue] - value cannot be stored, or write to the root
//   - remote.ErrPermissionDenied - DynamoDB refused access
package store
