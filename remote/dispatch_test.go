package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediate_NestedDispatchRunsAfterCurrent(t *testing.T) {
	d := NewImmediate()
	var order []string

	d.Dispatch(func() {
		order = append(order, "outer-start")
		d.Dispatch(func() { order = append(order, "nested") })
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "nested"}, order)
}

func TestQueue_FlushRunsInOrder(t *testing.T) {
	q := NewQueue()
	var order []int
	q.Dispatch(func() { order = append(order, 1) })
	q.Dispatch(func() {
		order = append(order, 2)
		q.Dispatch(func() { order = append(order, 3) })
	})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 3, q.Flush())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, q.Len())
}

func TestLoop_RunsOnLoopGoroutine(t *testing.T) {
	l := NewLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	done := make(chan int, 1)
	l.Post(func() { done <- 1 })

	select {
	case v := <-done:
		assert.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("loop did not run callback")
	}

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	// dispatching after stop must not block
	l.Dispatch(func() {})
}

func TestTokenGuard(t *testing.T) {
	offs := 0
	tok := NewToken(func() { offs++ })
	ran := 0
	guarded := tok.Guard(func() { ran++ })

	guarded()
	tok.Off()
	tok.Off()
	guarded()

	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, offs)
	assert.False(t, tok.Active())
	assert.NotEmpty(t, tok.ID())
}

func TestListener_ValueFiresOnceForNull(t *testing.T) {
	var got []Snapshot
	l := NewListener(Spec{Path: "doc"}, EventValue, func(s Snapshot, _ string) { got = append(got, s) }, nil, nil)

	for _, fn := range l.Refresh(Snapshot{Key: "doc"}) {
		fn()
	}
	for _, fn := range l.Refresh(Snapshot{Key: "doc"}) {
		fn()
	}
	for _, fn := range l.Refresh(Snapshot{Key: "doc", Value: 1.0}) {
		fn()
	}

	require.Len(t, got, 2)
	assert.Nil(t, got[0].Value)
	assert.Equal(t, 1.0, got[1].Value)
}

func TestListener_FailTurnsTokenOff(t *testing.T) {
	var gotErr error
	l := NewListener(Spec{Path: "x"}, EventChildAdded, func(Snapshot, string) {}, func(err error) { gotErr = err }, nil)

	l.Fail(ErrPermissionDenied)()

	var qerr *QueryError
	require.ErrorAs(t, gotErr, &qerr)
	assert.ErrorIs(t, gotErr, ErrPermissionDenied)
	assert.Equal(t, "x", qerr.Path)
	assert.False(t, l.Token.Active())
}
