package remote

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snaps(keys ...string) []Snapshot {
	out := make([]Snapshot, len(keys))
	for i, k := range keys {
		out[i] = Snapshot{Key: k, Value: k}
	}
	return out
}

func keysOf(view []Snapshot) []string {
	out := make([]string, len(view))
	for i, s := range view {
		out[i] = s.Key
	}
	return out
}

func TestDiff_InitialLoadIsAllAdds(t *testing.T) {
	events := Diff(nil, snaps("a", "b", "c"))

	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, EventChildAdded, e.Type)
		if i == 0 {
			assert.Equal(t, "", e.PrevKey)
		} else {
			assert.Equal(t, events[i-1].Snapshot.Key, e.PrevKey)
		}
	}
}

func TestDiff_RemovedFirst(t *testing.T) {
	events := Diff(snaps("a", "b", "c"), snaps("a", "c", "d"))

	require.NotEmpty(t, events)
	assert.Equal(t, EventChildRemoved, events[0].Type)
	assert.Equal(t, "b", events[0].Snapshot.Key)
	assert.Equal(t, Event{Type: EventChildAdded, Snapshot: Snapshot{Key: "d", Value: "d"}, PrevKey: "c"}, events[1])
}

func TestDiff_Changed(t *testing.T) {
	old := snaps("a", "b")
	new := []Snapshot{{Key: "a", Value: "a"}, {Key: "b", Value: "B"}}

	events := Diff(old, new)

	require.Len(t, events, 1)
	assert.Equal(t, EventChildChanged, events[0].Type)
	assert.Equal(t, "a", events[0].PrevKey)
}

func TestDiff_SingleMoveToFront(t *testing.T) {
	events := Diff(snaps("a", "b", "c", "d"), snaps("d", "a", "b", "c"))

	require.Len(t, events, 1)
	assert.Equal(t, EventChildMoved, events[0].Type)
	assert.Equal(t, "d", events[0].Snapshot.Key)
	assert.Equal(t, "", events[0].PrevKey)
}

func TestDiff_SingleMoveToBack(t *testing.T) {
	events := Diff(snaps("a", "b", "c", "d"), snaps("b", "c", "d", "a"))

	require.Len(t, events, 1)
	assert.Equal(t, EventChildMoved, events[0].Type)
	assert.Equal(t, "a", events[0].Snapshot.Key)
	assert.Equal(t, "d", events[0].PrevKey)
}

func TestDiff_NoChanges(t *testing.T) {
	assert.Empty(t, Diff(snaps("a", "b"), snaps("a", "b")))
}

func TestDiff_ApplyConverges(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	universe := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for round := 0; round < 200; round++ {
		old := randomView(r, universe)
		new := randomView(r, universe)
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			got := Apply(old, Diff(old, new))
			assert.Equal(t, keysOf(new), keysOf(got))
		})
	}
}

func randomView(r *rand.Rand, universe []string) []Snapshot {
	keys := append([]string(nil), universe...)
	r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	return snaps(keys[:r.Intn(len(keys)+1)]...)
}
