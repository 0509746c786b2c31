// Package remote defines the boundary to a remote, tree-structured store
// that can be queried, subscribed to and mutated.
//
// A [Source] hands out [Ref] handles for paths. A Ref is also a [Query]:
// it can be ordered ([Query.OrderByKey], [Query.OrderByValue],
// [Query.OrderByChild]) and bounded ([Query.LimitToFirst],
// [Query.LimitToLast]). Listening on a query with [Query.On] yields a
// [Subscription] token; turning the token off stops exactly that callback,
// including deliveries that were already queued.
//
// # Events
//
// Collections emit child_added, child_changed, child_removed and
// child_moved events carrying the child [Snapshot] and the key of the child
// that precedes it in the query order ("" when it is first). Documents emit
// value events carrying the whole value at the path.
//
// # Backends
//
// Storage engines implement [Backend]; [NewSource] turns one into a Source.
// The package also provides the pieces backends share: ordering
// ([Compare], [Window]), view diffing ([Diff]), delivery ([Dispatcher]),
// path handling and value copying.
package remote
