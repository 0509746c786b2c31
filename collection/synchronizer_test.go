package collection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/reactive"
	"github.com/jacentio/trellis/remote"
	"github.com/jacentio/trellis/remote/memory"
)

// awaitErr waits for f and returns its error.
func awaitErr[T any](ctx context.Context, f *future.Future[T]) error {
	_, err := f.Await(ctx)
	return err
}

func seeded(opts ...memory.Option) *memory.Backend {
	data := map[string]any{
		"messages": map[string]any{
			"m1": map[string]any{"text": "one"},
			"m2": map[string]any{"text": "two"},
			"m3": map[string]any{"text": "three"},
			"m4": map[string]any{"text": "four"},
			"m5": map[string]any{"text": "five"},
		},
	}
	return memory.New(append([]memory.Option{memory.WithData(data)}, opts...)...)
}

func mounted(t *testing.T, cfg collection.Config) *collection.Synchronizer {
	t.Helper()
	s, err := collection.New(cfg, collection.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Mount())
	t.Cleanup(s.Unmount)
	return s
}

func TestNewValidatesConfiguration(t *testing.T) {
	src := memory.New().Source()

	tests := []struct {
		name     string
		cfg      collection.Config
		fallback collection.Config
		want     error
	}{
		{"missing source", collection.Config{Path: "a"}, collection.Config{}, collection.ErrMissingSource},
		{"missing path", collection.Config{Source: src}, collection.Config{}, collection.ErrMissingPath},
		{"both limits", collection.Config{Source: src, Path: "a", LimitToLast: 1, LimitToFirst: 1}, collection.Config{}, collection.ErrConflictingLimits},
		{"two orders", collection.Config{Source: src, Path: "a", OrderByKey: true, OrderByChild: "n"}, collection.Config{}, collection.ErrConflictingOrder},
		{"negative limit", collection.Config{Source: src, Path: "a", LimitToLast: -1}, collection.Config{}, collection.ErrInvalidLimit},
		{"bad fallback", collection.Config{Source: src, Path: "a"}, collection.Config{OrderByKey: true, OrderByValue: true}, collection.ErrConflictingOrder},
		{"illegal path", collection.Config{Source: src, Path: "a.b"}, collection.Config{}, remote.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collection.New(tt.cfg, tt.fallback)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, collection.ErrConfiguration)
		})
	}
}

func TestFallbackSuppliesSourceAndPath(t *testing.T) {
	b := seeded()
	s, err := collection.New(collection.Config{}, collection.Config{Source: b.Source(), Path: "messages"})
	require.NoError(t, err)
	require.NoError(t, s.Mount())
	defer s.Unmount()

	assert.Equal(t, "messages", s.Path())
	assert.Equal(t, 5, s.Snapshot().Len())
}

func TestPageSizeResolution(t *testing.T) {
	src := memory.New().Source()
	tests := []struct {
		name     string
		cfg      collection.Config
		fallback collection.Config
		want     int
	}{
		{"explicit limit", collection.Config{LimitToLast: 10}, collection.Config{LimitToFirst: 20, PageSize: 30}, 10},
		{"inherited limit", collection.Config{}, collection.Config{LimitToFirst: 20, PageSize: 30}, 20},
		{"fallback page size", collection.Config{}, collection.Config{PageSize: 30}, 30},
		{"default", collection.Config{}, collection.Config{}, collection.DefaultPageSize},
		{"explicit page size", collection.Config{LimitToLast: 10, PageSize: 5}, collection.Config{}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Source, tt.cfg.Path = src, "p"
			s, err := collection.New(tt.cfg, tt.fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.PageSize())
		})
	}
}

func TestCallSiteOverridesFallback(t *testing.T) {
	src := memory.New().Source()
	s, err := collection.New(
		collection.Config{Source: src, Path: "p", LimitToFirst: 3, OrderByKey: true},
		collection.Config{LimitToLast: 10, OrderByChild: "score"},
	)
	require.NoError(t, err)

	q := s.Query()
	assert.Equal(t, remote.Limit{Edge: remote.LimitFirst, N: 3}, q.Limit)
	assert.Equal(t, remote.OrderKey, q.Order.Kind)

	s, err = collection.New(collection.Config{Source: src, Path: "p"}, collection.Config{LimitToLast: 10, OrderByChild: "score"})
	require.NoError(t, err)
	q = s.Query()
	assert.Equal(t, remote.Limit{Edge: remote.LimitLast, N: 10}, q.Limit)
	assert.Equal(t, remote.Order{Kind: remote.OrderChild, Child: "score"}, q.Order)
}

func TestAttachDeferredUntilMount(t *testing.T) {
	b := seeded()
	s, err := collection.New(collection.Config{Source: b.Source(), Path: "messages"}, collection.Config{})
	require.NoError(t, err)
	defer s.Unmount()

	assert.Equal(t, collection.StateUnmounted, s.State())
	assert.Equal(t, 0, b.Listeners())
	assert.Equal(t, 0, s.Snapshot().Len())

	require.NoError(t, s.Mount())
	require.NoError(t, s.Mount())

	assert.Equal(t, collection.StateMountedSubscribed, s.State())
	assert.Equal(t, len(remote.ChildEvents), b.Listeners())
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, s.Snapshot().Keys())
}

func TestLiveUpdates(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})
	ref := b.Source().Ref("messages")
	ctx := context.Background()

	require.NoError(t, awaitErr(ctx, ref.Child("m6").Set(map[string]any{"text": "six"})))
	require.NoError(t, awaitErr(ctx, ref.Child("m2").Remove()))
	require.NoError(t, awaitErr(ctx, ref.Child("m3").Update(map[string]any{"text": "THREE"})))

	snapshot := s.Snapshot()
	assert.Equal(t, []string{"m1", "m3", "m4", "m5", "m6"}, snapshot.Keys())
	assert.Equal(t, map[string]any{"text": "THREE"}, snapshot.Collection[1].Value)
}

func TestSlidingLimitToLast(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages", LimitToLast: 2})
	require.Equal(t, []string{"m4", "m5"}, s.Snapshot().Keys())

	require.NoError(t, awaitErr(context.Background(), b.Source().Ref("messages/m6").Set("six")))
	assert.Equal(t, []string{"m5", "m6"}, s.Snapshot().Keys())
}

func TestScrollMoreRequeries(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages", LimitToLast: 2})

	require.NoError(t, s.ScrollMore())
	assert.Equal(t, []string{"m2", "m3", "m4", "m5"}, s.Snapshot().Keys())
	assert.Equal(t, remote.Limit{Edge: remote.LimitLast, N: 4}, s.Query().Limit)
	assert.Equal(t, len(remote.ChildEvents), b.Listeners(), "old listeners are detached")

	require.NoError(t, s.ScrollMore())
	assert.Equal(t, 5, s.Snapshot().Len())
}

func TestScrollMoreWithoutLimitIsNoop(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})

	require.NoError(t, s.ScrollMore())
	assert.Equal(t, remote.LimitNone, s.Query().Limit.Edge)
	assert.Equal(t, 5, s.Snapshot().Len())
}

func TestSetLimits(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages", LimitToLast: 2})

	require.NoError(t, s.SetLimitToFirst(3))
	assert.Equal(t, []string{"m1", "m2", "m3"}, s.Snapshot().Keys())

	require.NoError(t, s.SetLimitToLast(1))
	assert.Equal(t, []string{"m5"}, s.Snapshot().Keys())

	assert.ErrorIs(t, s.SetLimitToLast(0), collection.ErrInvalidLimit)
	assert.Equal(t, []string{"m5"}, s.Snapshot().Keys())
}

func TestRequeryDropsInFlightEvents(t *testing.T) {
	q := remote.NewQueue()
	b := seeded(memory.WithDispatcher(q))
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages", LimitToLast: 5})
	q.Flush()
	require.Equal(t, 5, s.Snapshot().Len())

	// queued for the old subscription, not yet delivered
	b.Source().Ref("messages/m9").Set("late")
	require.Positive(t, q.Len())

	require.NoError(t, s.SetLimitToFirst(1))
	q.Flush()

	assert.Equal(t, []string{"m1"}, s.Snapshot().Keys())
}

func TestOrderByChildMoves(t *testing.T) {
	b := memory.New(memory.WithData(map[string]any{
		"scores": map[string]any{
			"a": map[string]any{"score": 1},
			"b": map[string]any{"score": 2},
			"c": map[string]any{"score": 3},
		},
	}))
	s := mounted(t, collection.Config{Source: b.Source(), Path: "scores", OrderByChild: "score"})
	require.Equal(t, []string{"a", "b", "c"}, s.Snapshot().Keys())

	require.NoError(t, awaitErr(context.Background(), b.Source().Ref("scores/a/score").Set(5)))

	snapshot := s.Snapshot()
	assert.Equal(t, []string{"b", "c", "a"}, snapshot.Keys())
	assert.Equal(t, map[string]any{"score": 5.0}, snapshot.Collection[2].Value)

	require.NoError(t, s.SetOrder(remote.Order{Kind: remote.OrderKey}))
	assert.Equal(t, []string{"a", "b", "c"}, s.Snapshot().Keys())
}

func TestQueryErrorKeepsLastGoodSnapshot(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})

	b.Deny("messages", nil)

	snapshot := s.Snapshot()
	assert.Equal(t, 5, snapshot.Len())
	require.Error(t, snapshot.Err)
	assert.ErrorIs(t, snapshot.Err, remote.ErrPermissionDenied)
	var qerr *remote.QueryError
	require.True(t, errors.As(snapshot.Err, &qerr))
	assert.Equal(t, "messages", qerr.Path)

	assert.Equal(t, collection.StateMountedUnsubscribed, s.State())
	assert.Equal(t, 0, b.Listeners())

	b.Allow("messages")
	require.NoError(t, s.Run())
	assert.NoError(t, s.Snapshot().Err)
	assert.Equal(t, collection.StateMountedSubscribed, s.State())
	assert.Equal(t, 5, s.Snapshot().Len())
}

func TestQueryErrorOnAttach(t *testing.T) {
	b := seeded()
	b.Deny("messages", errors.New("offline"))

	calls := 0
	s, err := collection.New(collection.Config{Source: b.Source(), Path: "messages"}, collection.Config{})
	require.NoError(t, err)
	defer s.Unmount()
	s.Watch(func(collection.Snapshot) { calls++ })

	require.NoError(t, s.Mount())

	assert.EqualError(t, errors.Unwrap(s.Snapshot().Err), "offline")
	assert.Equal(t, 1, calls, "only the first error of a query is reported")
	assert.Equal(t, collection.StateMountedUnsubscribed, s.State())
	assert.Equal(t, 0, b.Listeners())
}

func TestUnmountTerminates(t *testing.T) {
	b := seeded()
	s, err := collection.New(collection.Config{Source: b.Source(), Path: "messages"}, collection.Config{})
	require.NoError(t, err)
	require.NoError(t, s.Mount())

	s.Unmount()
	s.Unmount()

	assert.Equal(t, collection.StateTerminated, s.State())
	assert.Equal(t, 0, b.Listeners())
	assert.ErrorIs(t, s.Run(), collection.ErrTerminated)
	assert.ErrorIs(t, s.Mount(), collection.ErrTerminated)
	assert.ErrorIs(t, s.ScrollMore(), collection.ErrTerminated)

	require.NoError(t, awaitErr(context.Background(), b.Source().Ref("messages/m7").Set("x")))
	assert.Equal(t, 5, s.Snapshot().Len(), "last snapshot stays readable")
}

func TestUnmountFromWatcherStopsRound(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})

	second := 0
	s.Watch(func(collection.Snapshot) { s.Unmount() })
	s.Watch(func(collection.Snapshot) { second++ })

	require.NoError(t, awaitErr(context.Background(), b.Source().Ref("messages/m6").Set("six")))

	assert.Equal(t, collection.StateTerminated, s.State())
	assert.Equal(t, 0, second, "no watcher runs after unmount")
}

func TestSnapshotIsDetached(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})

	first := s.Snapshot()
	first.Collection[0].Value.(map[string]any)["text"] = "mutated"
	first.Collection = first.Collection[:1]

	again := s.Snapshot()
	assert.Equal(t, 5, again.Len())
	assert.Equal(t, map[string]any{"text": "one"}, again.Collection[0].Value)
}

func TestEntryDecode(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages", LimitToFirst: 1})

	var msg struct {
		Text string `json:"text"`
	}
	require.NoError(t, s.Snapshot().Collection[0].Decode(&msg))
	assert.Equal(t, "one", msg.Text)
}

func TestWatchAndCancel(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})

	var lens []int
	cancel := s.Watch(func(snap collection.Snapshot) { lens = append(lens, snap.Len()) })

	b.Source().Ref("messages/m6").Set("six")
	cancel()
	b.Source().Ref("messages/m7").Set("seven")

	assert.Equal(t, []int{6}, lens)
}

func TestTrackedCollectionRead(t *testing.T) {
	b := seeded()
	s := mounted(t, collection.Config{Source: b.Source(), Path: "messages"})
	sched := reactive.NewScheduler(nil)

	var sizes []int
	sched.Track("count", func(tr *reactive.Tracker) error {
		sizes = append(sizes, s.Collection(tr).Len())
		return nil
	})

	b.Source().Ref("messages/m1").Remove()
	b.Source().Ref("messages/m2").Remove()
	assert.Equal(t, 1, sched.Queued())

	sched.Flush()
	assert.Equal(t, []int{5, 3}, sizes)
}
