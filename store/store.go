package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/internal/shard"
	"github.com/jacentio/trellis/logging"
	"github.com/jacentio/trellis/remote"
)

const (
	versionCondition    = "#version = :version AND attribute_not_exists(#ttl)"
	softDeleteUpdate    = "SET #ttl = :ttl, #version = #version + :one"
	softDeleteCondition = "attribute_exists(pk) AND attribute_not_exists(#ttl)"

	// maxAttempts bounds read-modify-write retries on version conflicts.
	maxAttempts = 3
)

// Backend is a remote.Backend over a DynamoDB table.
type Backend struct {
	client     DynamoAPI
	config     Config
	dispatcher remote.Dispatcher
	logger     *logrus.Entry

	mu        sync.Mutex
	listeners []*remote.Listener

	// refreshMu serializes listener refreshes; a remote.Listener is not
	// safe for concurrent use.
	refreshMu sync.Mutex

	// work runs reads, writes and listener priming off the caller's
	// goroutine.
	work worker
}

// Option configures a Backend.
type Option func(*Backend)

// WithDispatcher sets how callbacks are delivered. The default runs them
// synchronously.
func WithDispatcher(d remote.Dispatcher) Option {
	return func(b *Backend) { b.dispatcher = d }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a new Backend instance.
func New(client DynamoAPI, config Config, opts ...Option) *Backend {
	config.validate()
	b := &Backend{
		client:     client,
		config:     config,
		dispatcher: remote.NewImmediate(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDefault(b.logger, "store")
	return b
}

// Source returns a remote.Source over the table.
func (b *Backend) Source() remote.Source {
	return remote.NewSource(b)
}

// Config returns the validated configuration.
func (b *Backend) Config() Config {
	return b.config
}

// Listeners returns the number of live listeners.
func (b *Backend) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Backend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.config.Timeout)
}

// Flush waits until every read, write and listener priming submitted
// before it has finished and dispatched its deliveries.
func (b *Backend) Flush(ctx context.Context) error {
	done := make(chan struct{})
	b.work.submit(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen implements remote.Backend. The listener is primed in the
// background with a read of the path; later deliveries follow writes made
// through this backend and changes passed to Notify.
func (b *Backend) Listen(spec remote.Spec, event remote.EventType, cb remote.Callback, errCb remote.ErrorCallback) remote.Subscription {
	var l *remote.Listener
	l = remote.NewListener(spec, event, cb, errCb, func() { b.removeListener(l) })

	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()

	b.work.submit(func() { b.prime(l) })
	return l.Token
}

func (b *Backend) prime(l *remote.Listener) {
	if !l.Token.Active() {
		return
	}
	spec := l.Spec

	ctx, cancel := b.context()
	defer cancel()

	b.refreshMu.Lock()
	var deliveries []func()
	value, err := b.valueAt(ctx, spec.Path)
	if err != nil {
		b.removeListener(l)
		deliveries = []func(){l.Fail(err)}
	} else {
		deliveries = l.Refresh(remote.Snapshot{Key: remote.BaseName(spec.Path), Value: value})
	}
	b.refreshMu.Unlock()

	log := b.logger.WithFields(logrus.Fields{
		"query":        spec.String(),
		"event":        l.Event,
		"subscription": l.Token.ID(),
	})
	if err != nil {
		log.WithError(err).Warn("listener failed to attach")
	} else {
		log.Debug("listener attached")
	}

	b.dispatch(deliveries)
}

// Read implements remote.Backend.
func (b *Backend) Read(spec remote.Spec) *future.Future[remote.Snapshot] {
	f := future.New[remote.Snapshot]()
	b.work.submit(func() {
		ctx, cancel := b.context()
		defer cancel()

		value, err := b.valueAt(ctx, spec.Path)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(remote.Windowed(remote.Snapshot{Key: remote.BaseName(spec.Path), Value: value}, spec))
	})
	return f
}

// Set implements remote.Backend. Below a stored node the value becomes a
// field of that node. A map written to a path with stored children
// replaces them child by child. Anything else is stored as one node at
// path.
func (b *Backend) Set(path string, value any) *future.Future[struct{}] {
	normalized, err := remote.Normalize(value)
	if err != nil {
		return future.Rejected[struct{}](fmt.Errorf("%w: %s: %w", ErrInvalidValue, path, err))
	}
	return b.write(path, "set", func(ctx context.Context) error {
		return b.set(ctx, path, normalized)
	})
}

// Update implements remote.Backend. When path or one of its ancestors is
// stored as a node, all values are applied to that node in one
// conditional write. Otherwise values are grouped by their first segment
// and each group is written as its own node below path.
func (b *Backend) Update(path string, values map[string]any) *future.Future[struct{}] {
	if len(values) == 0 {
		return future.Resolved(struct{}{})
	}
	normalized := make(map[string]any, len(values))
	for rel, v := range values {
		n, err := remote.Normalize(v)
		if err != nil {
			return future.Rejected[struct{}](fmt.Errorf("%w: %s: %w", ErrInvalidValue, remote.JoinPath(path, rel), err))
		}
		normalized[rel] = n
	}
	return b.write(path, "update", func(ctx context.Context) error {
		return b.update(ctx, path, normalized)
	})
}

// Push implements remote.Backend.
func (b *Backend) Push(path string, value any) *future.Future[string] {
	key := ulid.Make().String()
	return future.Map(b.Set(remote.JoinPath(path, key), value), func(struct{}) string {
		return key
	})
}

// Remove implements remote.Backend. Stored nodes are soft deleted by
// setting their TTL.
func (b *Backend) Remove(path string) *future.Future[struct{}] {
	return b.write(path, "remove", func(ctx context.Context) error {
		return b.set(ctx, path, nil)
	})
}

// Notify refreshes the listeners affected by changes made elsewhere.
func (b *Backend) Notify(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	b.logger.WithField("changes", len(changes)).Debug("applying remote changes")
	b.refresh(ctx, paths...)
	return ctx.Err()
}

// CascadeRemove soft deletes the live children of path with the given
// TTL. It keeps going when a child fails and returns how many children
// were deleted together with the joined failures.
func (b *Backend) CascadeRemove(ctx context.Context, path string, ttl int64) (int, error) {
	children, err := b.QueryChildren(ctx, path)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, child := range children {
		if err := b.softDelete(ctx, child.Path, ttl); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Path, err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		b.refresh(ctx, path)
	}
	return deleted, errors.Join(errs...)
}

// GetNode returns the live node stored at path, or nil.
func (b *Backend) GetNode(ctx context.Context, path string) (*Node, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.Table),
		Key:            NodeKey(path, b.config.NumShards),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(out.Item) == 0 || IsDeleted(out.Item) {
		return nil, nil
	}
	return UnmarshalNode(out.Item)
}

// QueryChildren returns the live nodes stored directly below path, in no
// particular order.
func (b *Backend) QueryChildren(ctx context.Context, path string) ([]*Node, error) {
	numShards := b.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return b.queryShard(ctx, shard.PK(ref(path), 0))
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []*Node
	var wg sync.WaitGroup
	errs := make(chan error, numShards)

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			nodes, err := b.queryShard(ctx, shard.PK(ref(path), shardNum))
			if err != nil {
				errs <- fmt.Errorf("shard %02x: %w", shardNum, err)
				return
			}

			mu.Lock()
			all = append(all, nodes...)
			mu.Unlock()
		}(shardNum)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (b *Backend) queryShard(ctx context.Context, shardPK string) ([]*Node, error) {
	live := newLiveFilter()
	paginator := dynamodb.NewQueryPaginator(b.client, &dynamodb.QueryInput{
		TableName:                aws.String(b.config.Table),
		KeyConditionExpression:   aws.String("pk = :pk"),
		FilterExpression:         aws.String(live.expr()),
		ExpressionAttributeNames: live.names(),
		ExpressionAttributeValues: merge(
			map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: shardPK}},
			live.values(),
		),
		ConsistentRead: aws.Bool(true),
	})

	var nodes []*Node
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, item := range page.Items {
			n, err := UnmarshalNode(item)
			if err != nil {
				b.logger.WithError(err).WithField("pk", shardPK).Warn("skipping malformed item")
				continue
			}
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// owner finds the nearest live node at or above path and the path of
// path relative to it.
func (b *Backend) owner(ctx context.Context, path string) (*Node, string, error) {
	parts := remote.SplitPath(path)
	for i := len(parts); i > 0; i-- {
		n, err := b.GetNode(ctx, strings.Join(parts[:i], "/"))
		if err != nil {
			return nil, "", err
		}
		if n != nil {
			return n, strings.Join(parts[i:], "/"), nil
		}
	}
	return nil, "", nil
}

// valueAt returns the value of path: a field of the nearest stored
// ancestor-or-self, or else the map of its stored children.
func (b *Backend) valueAt(ctx context.Context, path string) (any, error) {
	n, rel, err := b.owner(ctx, path)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return remote.Lookup(n.Value, rel), nil
	}

	children, err := b.QueryChildren(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	value := make(map[string]any, len(children))
	for _, c := range children {
		if c.Value != nil {
			value[c.Key()] = c.Value
		}
	}
	if len(value) == 0 {
		return nil, nil
	}
	return value, nil
}

func (b *Backend) set(ctx context.Context, path string, value any) error {
	if path == "" {
		return fmt.Errorf("%w: the root cannot be written", ErrInvalidValue)
	}

	n, rel, err := b.owner(ctx, path)
	if err != nil {
		return err
	}
	if n != nil {
		if rel == "" && value == nil {
			return b.softDelete(ctx, path, time.Now().Unix())
		}
		return b.modify(ctx, n, func(v any) any { return remote.Put(v, rel, value) })
	}

	children, err := b.QueryChildren(ctx, path)
	if err != nil {
		return err
	}
	fields, isMap := value.(map[string]any)
	if len(children) == 0 || !isMap {
		if err := b.softDeleteAll(ctx, children); err != nil {
			return err
		}
		if value == nil {
			return nil
		}
		return b.put(ctx, path, value, nil)
	}

	// path is a collection: keep one node per child.
	existing := make(map[string]*Node, len(children))
	for _, c := range children {
		existing[c.Key()] = c
	}
	for _, key := range sortedKeys(fields) {
		v := fields[key]
		if prev, ok := existing[key]; ok {
			delete(existing, key)
			if err := b.modify(ctx, prev, func(any) any { return v }); err != nil {
				return err
			}
			continue
		}
		if err := b.put(ctx, remote.JoinPath(path, key), v, nil); err != nil {
			return err
		}
	}
	stale := make([]*Node, 0, len(existing))
	for _, c := range existing {
		stale = append(stale, c)
	}
	return b.softDeleteAll(ctx, stale)
}

func (b *Backend) update(ctx context.Context, path string, values map[string]any) error {
	n, rel, err := b.owner(ctx, path)
	if err != nil {
		return err
	}
	if n != nil {
		return b.modify(ctx, n, func(v any) any {
			for _, p := range sortedKeys(values) {
				v = remote.Put(v, remote.JoinPath(rel, p), values[p])
			}
			return v
		})
	}

	if v, ok := values[""]; ok {
		if err := b.set(ctx, path, v); err != nil {
			return err
		}
		rest := make(map[string]any, len(values))
		for p, v := range values {
			if p != "" {
				rest[p] = v
			}
		}
		if len(rest) == 0 {
			return nil
		}
		return b.update(ctx, path, rest)
	}

	// Nothing is stored at or above path, so the values become nodes one
	// level below it, one per first segment.
	groups := make(map[string]map[string]any)
	for p, v := range values {
		parts := remote.SplitPath(p)
		sub, ok := groups[parts[0]]
		if !ok {
			sub = make(map[string]any)
			groups[parts[0]] = sub
		}
		sub[strings.Join(parts[1:], "/")] = v
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		child := remote.JoinPath(path, key)
		sub := groups[key]

		children, err := b.QueryChildren(ctx, child)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			if err := b.update(ctx, child, sub); err != nil {
				return err
			}
			continue
		}

		var value any
		for _, rest := range sortedKeys(sub) {
			value = remote.Put(value, rest, sub[rest])
		}
		if err := b.set(ctx, child, value); err != nil {
			return err
		}
	}
	return nil
}

// modify rewrites the value of a stored node with fn, retrying on version
// conflicts. A nil result soft deletes the node.
func (b *Backend) modify(ctx context.Context, n *Node, fn func(any) any) error {
	path := n.Path
	for attempt := 0; attempt < maxAttempts; attempt++ {
		next := fn(remote.Clone(n.Value))

		var err error
		if next == nil {
			err = b.softDelete(ctx, path, time.Now().Unix())
		} else {
			err = b.put(ctx, path, next, n)
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}

		b.logger.WithField("path", path).Debug("version conflict, retrying")
		n, err = b.GetNode(ctx, path)
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}
	return fmt.Errorf("%w: %s", ErrConcurrentModification, path)
}

// put writes the node at path. When prev is set the write is conditional
// on prev's version still being current.
func (b *Backend) put(ctx context.Context, path string, value any, prev *Node) error {
	now := timestamp(time.Now())
	n := &Node{Path: path, Value: value, Version: 1, CreatedAt: now, UpdatedAt: now}

	input := &dynamodb.PutItemInput{TableName: aws.String(b.config.Table)}
	if prev != nil {
		n.Version = prev.Version + 1
		n.CreatedAt = prev.CreatedAt
		input.ConditionExpression = aws.String(versionCondition)
		input.ExpressionAttributeNames = merge(liveFilter{}.names(), map[string]string{"#version": attrVersion})
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":version": numberAttr(prev.Version)}
	}

	item, err := marshalNode(n, b.config.NumShards)
	if err != nil {
		return err
	}
	input.Item = item

	_, err = b.client.PutItem(ctx, input)
	return mapError(err)
}

// softDelete marks the node at path deleted by setting its TTL.
// This also increments the version to fail concurrent updates.
func (b *Backend) softDelete(ctx context.Context, path string, ttl int64) error {
	_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(b.config.Table),
		Key:                 NodeKey(path, b.config.NumShards),
		UpdateExpression:    aws.String(softDeleteUpdate),
		ConditionExpression: aws.String(softDeleteCondition),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": numberAttr(ttl),
			":one": numberAttr(1),
		},
	})

	// Ignore condition failure - missing or already deleted
	if isConditionFailed(err) {
		return nil
	}
	return mapError(err)
}

func (b *Backend) softDeleteAll(ctx context.Context, nodes []*Node) error {
	ttl := time.Now().Unix()
	var errs []error
	for _, n := range nodes {
		if err := b.softDelete(ctx, n.Path, ttl); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Path, err))
		}
	}
	return errors.Join(errs...)
}

// write runs fn on the worker. The future resolves after listeners over
// path were refreshed.
func (b *Backend) write(path, op string, fn func(ctx context.Context) error) *future.Future[struct{}] {
	f := future.New[struct{}]()
	b.work.submit(func() {
		ctx, cancel := b.context()
		defer cancel()

		if err := fn(ctx); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{"path": path, "op": op}).Debug("write failed")
			f.Reject(err)
			return
		}
		b.refresh(ctx, path)
		f.Resolve(struct{}{})
	})
	return f
}

// refresh re-reads the paths of listeners overlapping any of paths and
// delivers what changed. A listener whose read fails is cancelled with
// the error.
func (b *Backend) refresh(ctx context.Context, paths ...string) {
	b.mu.Lock()
	var targets []*remote.Listener
	for _, l := range b.listeners {
		for _, p := range paths {
			if remote.Overlaps(p, l.Spec.Path) {
				targets = append(targets, l)
				break
			}
		}
	}
	b.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	type read struct {
		value any
		err   error
	}
	reads := make(map[string]read)

	b.refreshMu.Lock()
	var deliveries []func()
	for _, l := range targets {
		if !l.Token.Active() {
			continue
		}
		r, ok := reads[l.Spec.Path]
		if !ok {
			r.value, r.err = b.valueAt(ctx, l.Spec.Path)
			reads[l.Spec.Path] = r
		}
		if r.err != nil {
			b.logger.WithError(r.err).WithField("subscription", l.Token.ID()).Warn("listener refresh failed")
			b.removeListener(l)
			deliveries = append(deliveries, l.Fail(r.err))
			continue
		}
		deliveries = append(deliveries, l.Refresh(remote.Snapshot{Key: remote.BaseName(l.Spec.Path), Value: r.value})...)
	}
	b.refreshMu.Unlock()

	b.dispatch(deliveries)
}

func (b *Backend) dispatch(deliveries []func()) {
	for _, d := range deliveries {
		b.dispatcher.Dispatch(d)
	}
}

func (b *Backend) removeListener(target *remote.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l == target {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
